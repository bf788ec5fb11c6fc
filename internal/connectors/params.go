package connectors

import (
	"encoding/json"
	"strconv"

	"github.com/rendis/tabflow/pkg/schema"
)

func stringParam(m map[string]any, key, defaultVal string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return defaultVal
}

func requireString(connector string, m map[string]any, key string) (string, error) {
	s := stringParam(m, key, "")
	if s == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param %q", connector, key)
	}
	return s, nil
}

// int64Param accepts JSON numbers as well as numeric strings, since chat ids
// often arrive quoted.
func int64Param(m map[string]any, key string) (int64, bool) {
	switch n := m[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
