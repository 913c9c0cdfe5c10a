// Package logging builds the process slog logger. Attributes whose keys
// look like credentials are redacted before they reach the handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler.
type Options struct {
	// Level is debug, info, warn or error. Default info.
	Level string
	// Format is text or json. Default text.
	Format string
	Output io.Writer
}

const redacted = "[REDACTED]"

var (
	secretParts  = map[string]bool{"password": true, "passwd": true, "secret": true, "token": true, "authorization": true}
	secretJoined = []string{"api_key", "apikey", "access_key"}
)

// IsSecretKey reports whether values under key are redacted.
func IsSecretKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, s := range secretJoined {
		if strings.Contains(k, s) {
			return true
		}
	}
	for _, part := range strings.FieldsFunc(k, func(r rune) bool { return r == '_' || r == '.' || r == '-' }) {
		if secretParts[part] {
			return true
		}
	}
	return false
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds a logger.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level), ReplaceAttr: redact}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, ho)
	} else {
		h = slog.NewTextHandler(out, ho)
	}
	return slog.New(h)
}

// Setup builds a logger and installs it as slog's default.
func Setup(opts Options) *slog.Logger {
	l := New(opts)
	slog.SetDefault(l)
	return l
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindGroup && IsSecretKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString && looksLikeBearer(a.Value.String()) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func looksLikeBearer(s string) bool {
	return strings.HasPrefix(s, "Bearer ") || strings.HasPrefix(s, "sk-")
}
