package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSE writes Server-Sent Events to a streaming response.
type SSE struct {
	w http.ResponseWriter
	f http.Flusher
}

// StartSSE sets the event-stream headers and sends an initial ping comment.
// It writes a 500 and returns false if w cannot stream.
func StartSSE(w http.ResponseWriter) (*SSE, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	_, _ = w.Write([]byte(": ping\n\n"))
	f.Flush()
	return &SSE{w: w, f: f}, true
}

// Send writes v as one JSON data message. An error means the client is gone.
func (s *SSE) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
