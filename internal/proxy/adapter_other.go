//go:build !linux

package proxy

import "tinygo.org/x/bluetooth"

// Adapter selection by name is only supported by BlueZ.
func newAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
