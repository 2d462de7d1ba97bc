// Package config loads the scanner configuration.
//
// A file is either a YAML document or the add-on's options.json; both
// decode onto the same Config after defaults are in place. BLESCANNER_*
// environment variables then override individual fields, and Validate
// reports every bad field in one ErrInvalid error.
//
// The MQTT host may be the "<auto_detect>" sentinel, in which case
// ResolveBrokerConfig asks the Supervisor services API for the broker:
//
//	cfg, err := config.Load("/data/options.json")
//	...
//	broker, err := config.ResolveBrokerConfig(ctx, cfg.MQTT)
//
// Keep the MQTT password, JWT secret and InfluxDB token out of committed
// files; pass them through the add-on options or the environment.
package config
