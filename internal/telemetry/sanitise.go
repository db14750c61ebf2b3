package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// contentKeys hold file data rather than locations; only their size is kept.
var contentKeys = map[string]bool{
	"content": true,
	"oldtext": true,
	"newtext": true,
}

// SanitiseArguments renders args as JSON with file contents replaced by
// their length and secret-looking keys redacted.
func SanitiseArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	jsonBytes, err := json.Marshal(sanitiseValue("", args))
	if err != nil {
		return `{"error": "failed to serialise arguments"}`
	}
	return string(jsonBytes)
}

func sanitiseValue(key string, value any) any {
	keyLower := strings.ToLower(key)
	if isSecretKey(keyLower) {
		return "[REDACTED]"
	}

	switch v := value.(type) {
	case string:
		if contentKeys[keyLower] {
			return fmt.Sprintf("[%d bytes]", len(v))
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = sanitiseValue(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = sanitiseValue(key, inner)
		}
		return out
	default:
		return value
	}
}

func isSecretKey(keyLower string) bool {
	for _, marker := range []string{"token", "secret", "password", "api_key", "apikey", "authorization"} {
		if strings.Contains(keyLower, marker) {
			return true
		}
	}
	return false
}

// TruncateString truncates a string to a maximum length with ellipsis
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
