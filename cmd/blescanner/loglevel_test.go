package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
)

func TestToggleDebug(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "warning"}, "test", io.Discard)

	if got := toggleDebug(log, slog.LevelWarn); got != slog.LevelDebug || log.Level() != slog.LevelDebug {
		t.Errorf("first toggle = %v, level %v", got, log.Level())
	}
	if got := toggleDebug(log, slog.LevelWarn); got != slog.LevelWarn || log.Level() != slog.LevelWarn {
		t.Errorf("second toggle = %v, level %v", got, log.Level())
	}
}

func TestToggleDebug_ConfiguredTrace(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "trace"}, "test", io.Discard)

	if got := toggleDebug(log, logging.LevelTrace); got != logging.LevelTrace {
		t.Errorf("toggle from trace = %v, want trace", got)
	}
}
