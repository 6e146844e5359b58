// Package logging provides structured logging for monomed.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text when debugging, with service and version on every
// entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	reg := serialosc.NewRegistry(serialosc.WithLogger(logger.Component("serialosc")))
//
// *Logger satisfies the small Logger interfaces declared by the osc,
// serialosc, events and mqtt packages.
package logging
