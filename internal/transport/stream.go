package transport

import (
	"sync"
	"sync/atomic"

	"github.com/reflow/openapi-mcp-gateway/internal/mcpproto"
)

// replayCapacity bounds each session's replay buffer, per spec §4.8.
const replayCapacity = 100

// stream is one session's server-to-client push state: a bounded FIFO of
// past events for Last-Event-ID replay, plus the set of live SSE writers
// currently attached. Grounded on the teacher's SSEHub, generalized with a
// persistent replay buffer (the teacher's hub drops events once no
// connection is attached; this one retains them for the next GET).
type stream struct {
	mu       sync.Mutex
	sessionID string
	nextID   int64
	buffer   []mcpproto.SSEEvent
	writers  map[string]*mcpproto.SSEWriter
}

func newStream(sessionID string) *stream {
	return &stream{sessionID: sessionID, writers: make(map[string]*mcpproto.SSEWriter)}
}

// attach registers a live writer under connID and replays any buffered
// events with id > lastEventID, in order.
func (s *stream) attach(connID string, w *mcpproto.SSEWriter, lastEventID int64) error {
	s.mu.Lock()
	var toReplay []mcpproto.SSEEvent
	for _, ev := range s.buffer {
		if ev.ID > lastEventID {
			toReplay = append(toReplay, ev)
		}
	}
	s.writers[connID] = w
	s.mu.Unlock()

	for _, ev := range toReplay {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// detach removes connID's writer; safe to call multiple times.
func (s *stream) detach(connID string) {
	s.mu.Lock()
	delete(s.writers, connID)
	s.mu.Unlock()
}

// push enqueues ev's payload under a new monotonic id, stores it in the
// bounded replay buffer, and fans it out to every live writer.
func (s *stream) push(payload string) {
	id := atomic.AddInt64(&s.nextID, 1)
	ev := mcpproto.SSEEvent{ID: id, Event: "message", Data: payload}

	s.mu.Lock()
	s.buffer = append(s.buffer, ev)
	if len(s.buffer) > replayCapacity {
		s.buffer = s.buffer[len(s.buffer)-replayCapacity:]
	}
	writers := make([]*mcpproto.SSEWriter, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.mu.Unlock()

	for _, w := range writers {
		_ = w.WriteEvent(ev)
	}
}

func (s *stream) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writers)
}

// hub owns one stream per session, created lazily.
type hub struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func newHub() *hub {
	return &hub{streams: make(map[string]*stream)}
}

func (h *hub) getOrCreate(sessionID string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[sessionID]
	if !ok {
		s = newStream(sessionID)
		h.streams[sessionID] = s
	}
	return s
}

// push enqueues payload for sessionID's stream, creating it if necessary so
// notifications sent before any GET still get buffered.
func (h *hub) push(sessionID, payload string) {
	h.getOrCreate(sessionID).push(payload)
}

// remove drops a session's stream entirely, invoked from the session
// destruction listener.
func (h *hub) remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, sessionID)
}
