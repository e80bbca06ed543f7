package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/config"
)

// redacted replaces the value of any attribute whose key names a credential.
const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys never written in clear. Matching is by
// suffix so device_secret and jwt_secret are covered too.
var sensitiveKeys = []string{"password", "secret", "token"}

// Logger is the gateway's structured logger. It embeds *slog.Logger so
// it satisfies the small Logger interfaces declared by other packages.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging config section. Output "stderr"
// selects standard error; anything else is standard output.
func New(cfg config.LoggingConfig, service, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, service, version, w)
}

// NewWithWriter is New with an explicit destination.
//
// Records carry service and version, timestamps are UTC, credential
// attributes are redacted, and debug level adds the source location.
func NewWithWriter(cfg config.LoggingConfig, service, version string, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", service, "version", version)}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.Time(a.Key, a.Value.Time().UTC())
	}
	if isSensitive(a.Key) && a.Value.Kind() == slog.KindString && a.Value.String() != "" {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// parseLevel maps a config level name to slog.Level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child Logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used before the config file has been read.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info"}, "petnest", "dev", os.Stdout)
}

// Discard drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}
