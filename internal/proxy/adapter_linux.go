//go:build linux

package proxy

import "tinygo.org/x/bluetooth"

func newAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
