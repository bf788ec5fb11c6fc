package dispatch

import (
	"encoding/json"
	"time"
)

func stringParam(m map[string]any, key, defaultVal string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return defaultVal
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return defaultVal
}

func intParam(m map[string]any, key string, defaultVal int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return defaultVal
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	switch n := m[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return defaultVal
}

// durationParam accepts Go duration strings ("1.5s") or milliseconds as a number.
func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	switch v := m[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64, int, int64, json.Number:
		return time.Duration(floatParam(m, key, 0) * float64(time.Millisecond))
	}
	return defaultVal
}

func stringsParam(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
