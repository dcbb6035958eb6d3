package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StringArg returns args[key] as a trimmed string, or "".
func StringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// IntArg returns args[key] as an int. JSON numbers arrive as float64;
// numeric strings are accepted too. Missing or invalid values return def.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// RequireString returns args[key] or an error naming the tool and key.
func RequireString(tool string, args map[string]any, key string) (string, error) {
	s := StringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s: %s is required", tool, key)
	}
	return s, nil
}
