package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/tabflow/internal/streaming"
)

// handleSSE streams live execution events, optionally narrowed by
// session_id, execution_id and a comma-separated type list.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		notConfigured(w, "event hub")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := streaming.Filter{
		SessionID:   r.URL.Query().Get("session_id"),
		ExecutionID: r.URL.Query().Get("execution_id"),
		EventTypes:  queryList(r, "type"),
	}
	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
