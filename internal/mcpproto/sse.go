package mcpproto

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SSEEvent is a single Server-Sent Event frame.
type SSEEvent struct {
	ID    int64
	Event string
	Data  string
}

// SSEWriter writes Server-Sent Event frames to an HTTP response, flushing
// after every frame so the client observes them as they are produced.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the SSE headers, writes status 200, and flushes them
// immediately so the client's stream opens before the first event.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes a single SSE frame.
func (w *SSEWriter) WriteEvent(ev SSEEvent) error {
	if ev.Event != "" {
		if _, err := fmt.Fprintf(w.w, "event: %s\n", ev.Event); err != nil {
			return err
		}
	}
	if ev.ID != 0 {
		if _, err := fmt.Fprintf(w.w, "id: %d\n", ev.ID); err != nil {
			return err
		}
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(w.w, "\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// WriteNotification marshals and writes a JSON-RPC notification as an SSE event.
func (w *SSEWriter) WriteNotification(id int64, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return w.WriteEvent(SSEEvent{ID: id, Event: "message", Data: string(data)})
}

// WriteResponse marshals and writes a single JSON-RPC response as one SSE event,
// used by POST handlers that choose to answer over an SSE body.
func (w *SSEWriter) WriteResponse(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return w.WriteEvent(SSEEvent{Event: "message", Data: string(data)})
}

// Ping writes a comment-only heartbeat frame; comment lines are ignored by
// SSE clients and never surface as an event.
func (w *SSEWriter) Ping() error {
	if _, err := fmt.Fprint(w.w, ": ping\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
