package steps

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dynamic data arrives from YAML (int) or JSON (float64); these helpers
// accept either.

func getString(params map[string]interface{}, key string, fallback string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case string:
		if strings.TrimSpace(typed) == "" {
			return fallback
		}
		return typed
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func getInt(params map[string]interface{}, key string, fallback int) int {
	value, ok := params[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// parseWait accepts a Go duration ("1.5s") or a bare number of
// milliseconds, optionally followed by "ms", "seconds" or "second".
func parseWait(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, fmt.Errorf("invalid wait duration %q", raw)
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid wait duration %q", raw)
	}
	unit := time.Millisecond
	if len(fields) == 2 {
		switch strings.ToLower(fields[1]) {
		case "ms", "millisecond", "milliseconds":
		case "s", "second", "seconds":
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid wait unit %q", fields[1])
		}
	}
	return time.Duration(n * float64(unit)), nil
}

// expandVars replaces ${name} with scenario variables, then the environment.
func expandVars(value string, vars map[string]string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		if replacement, ok := vars[key]; ok {
			return replacement
		}
		return os.Getenv(key)
	})
}
