// Package logging builds the scanner's log/slog logger.
//
// Records are JSON (or logfmt-style text) tagged with service and version.
// Level names follow the Home Assistant add-on options: trace, debug,
// info, notice, warning, error and fatal. trace has its own level below
// debug; notice and fatal fold into info and error.
//
// The threshold is held in a slog.LevelVar shared by every logger derived
// with With, so SetLevel takes effect everywhere at once.
//
// Never log MQTT passwords, proxy API keys or the JWT secret.
package logging
