// Package logging provides structured logging for the habitat gateway.
//
// It wraps log/slog so every component logs the same way:
// JSON in production, text for development, with service and version
// attached to every record.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "petnestd", version)
//	logger.Info("gateway connected", "device_id", id)
//
// Never log device secrets or derived MQTT passwords.
package logging
