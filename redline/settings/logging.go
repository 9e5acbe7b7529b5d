package settings

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q must be debug, info, warn or error", s)
}

// NewLogger builds a slog logger writing to w. Every record carries a
// component attribute, and attributes whose key looks like a credential are
// redacted.
func NewLogger(cfg LoggingConfig, w io.Writer, component string) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging.format %q must be text or json", cfg.Format)
	}
	if component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", component)})
	}
	return slog.New(handler), nil
}

var sensitiveSegments = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"apikey":        true,
	"credential":    true,
	"credentials":   true,
	"authorization": true,
}

// shouldRedact matches whole key segments split on '_', '.' and '-', so
// api_key and auth.token are redacted while max_output_tokens is not.
func shouldRedact(key string) bool {
	segments := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '.' || r == '-'
	})
	for i, seg := range segments {
		if sensitiveSegments[seg] {
			return true
		}
		if seg == "api" && i+1 < len(segments) && segments[i+1] == "key" {
			return true
		}
	}
	return false
}
