package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace sits below Debug and turns on full request and response
// payloads for model and tool backends.
const LevelTrace = slog.Level(-8)

// logLevels lists the accepted log_level values, most verbose first.
var logLevels = []struct {
	name  string
	level slog.Level
}{
	{"trace", LevelTrace},
	{"debug", slog.LevelDebug},
	{"info", slog.LevelInfo},
	{"warn", slog.LevelWarn},
	{"error", slog.LevelError},
}

// ParseLogLevel maps a log_level value to a level. Case and surrounding
// space are ignored, empty means info, and "warning" is accepted.
func ParseLogLevel(s string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		name = "warn"
	}
	valid := make([]string, 0, len(logLevels))
	for _, l := range logLevels {
		if l.name == name {
			return l.level, nil
		}
		valid = append(valid, l.name)
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: %s)", s, strings.Join(valid, ", "))
}

// secretAttrs are attribute keys, or key suffixes after an underscore,
// whose string values are masked in log output.
var secretAttrs = []string{"api_key", "apikey", "authorization", "token", "secret", "password"}

func isSecretAttr(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretAttrs {
		if key == s || strings.HasSuffix(key, "_"+s) {
			return true
		}
	}
	return false
}

// maskSecret keeps the last four characters of long values so keys can
// still be told apart.
func maskSecret(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// ReplaceLogAttrs is the ReplaceAttr hook for Quill's handlers. It
// prints LevelTrace as TRACE and masks credential attributes.
func ReplaceLogAttrs(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
		return a
	}
	if a.Value.Kind() == slog.KindString && a.Value.String() != "" && isSecretAttr(a.Key) {
		a.Value = slog.StringValue(maskSecret(a.Value.String()))
	}
	return a
}

// NewLogger builds a text or JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: ReplaceLogAttrs}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Logger returns a logger at the configured log_level and log_format.
// An invalid level, which Validate rejects, falls back to info.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(c.LogLevel)
	return NewLogger(w, level, c.LogFormat)
}
