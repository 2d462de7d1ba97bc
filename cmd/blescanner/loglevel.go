package main

import (
	"log/slog"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
)

// toggleDebug switches log to debug, or back to configured when it is
// already at debug or below.
func toggleDebug(log *logging.Logger, configured slog.Level) slog.Level {
	next := slog.LevelDebug
	if log.Level() <= slog.LevelDebug {
		next = configured
	}
	log.SetLevel(next)
	return next
}
