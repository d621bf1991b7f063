// Package logging provides structured logging for a Gray Logic node.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the node.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Per-node and per-component child loggers
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
// Logging is configured via the LoggingConfig in the node's YAML config:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0").ForNode(g.ID())
//	logger.Info("node started", "outputs", n)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log broker passwords or InfluxDB tokens.
package logging
