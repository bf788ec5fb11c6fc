package panel

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rendis/tabflow/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFlowError maps err's code to an HTTP status and writes it.
func writeFlowError(w http.ResponseWriter, err error) {
	fe := schema.AsFlowError(err, schema.ErrCodeStore)
	writeJSON(w, httpStatus(fe.Code), map[string]any{"error": fe})
}

func httpStatus(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeScheduling:
		return http.StatusBadRequest
	case schema.ErrCodeConflict, schema.ErrCodeInvalidState:
		return http.StatusConflict
	case schema.ErrCodePolicyDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func notConfigured(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not configured")
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryList splits a comma-separated query param, dropping empty items.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
