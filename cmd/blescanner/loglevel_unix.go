//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
)

// watchDebugSignal flips debug logging on and off on SIGUSR1 until ctx ends.
func watchDebugSignal(ctx context.Context, log *logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	configured := log.Level()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			level := toggleDebug(log, configured)
			log.Warn("log level changed", "level", level.String())
		}
	}
}
