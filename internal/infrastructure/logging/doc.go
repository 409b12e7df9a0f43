// Package logging provides structured logging for hubrelay.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Correlation ids carried in context.Context, logged as correlation_id
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	ctx, id := logging.EnsureCorrelationID(ctx)
//	logger.Info("event received", logging.CorrelationKey, id)
//
// # Security
//
// Never log the hub token.
package logging
