package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
)

const serviceName = "blescanner"

// LevelTrace sits below debug for the add-on's "trace" setting.
const LevelTrace = slog.LevelDebug - 4

// levels maps every accepted level name, including the Home Assistant
// add-on names, onto a slog level.
var levels = map[string]slog.Level{
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"notice":  slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
	"fatal":   slog.LevelError,
}

// Logger is a slog.Logger whose level can be changed while running.
// Loggers derived with With share the level of their parent.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger for cfg, writing to stderr when cfg.Output says so
// and to stdout otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: lv, ReplaceAttr: levelLabel}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	base := slog.New(h).With("service", serviceName, "version", version)
	return &Logger{Logger: base, level: lv}
}

// Default is the logger used before configuration has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// With returns a child logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Level reports the current threshold.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// SetLevel changes the threshold for l and every logger derived from it.
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// ParseLevel resolves a level name, case-insensitively. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	if lv, ok := levels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lv
	}
	return slog.LevelInfo
}

// levelLabel prints LevelTrace as "TRACE" instead of "DEBUG-4".
func levelLabel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lv, ok := a.Value.Any().(slog.Level); ok && lv == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
