//go:build !unix

package main

import (
	"context"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
)

func watchDebugSignal(context.Context, *logging.Logger) {}
