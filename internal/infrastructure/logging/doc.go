// Package logging provides structured logging for the grow engine.
//
// It wraps log/slog with JSON (production) or text (development) output,
// level filtering and default service/version fields on every entry.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log JWT secrets, broker passwords or InfluxDB tokens.
package logging
