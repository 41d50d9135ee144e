// Package session implements the SessionStore (component C7): creation,
// refresh, expiry, and idempotent destruction of transport sessions, plus
// the periodic sweep that expires sessions by inactivity.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
)

// tokenPattern is the strict token-validation rule applied at ingress,
// per spec §4.7.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~+/]+=*$`)

// ValidateToken checks a raw bearer/X-API-Token value against the ingress
// shape rule: length bound and character set.
func ValidateToken(token string, maxLength int) *errs.Error {
	if maxLength <= 0 {
		maxLength = 1000
	}
	if len(token) == 0 || len(token) > maxLength {
		return errs.Authentication("malformed token: length out of bounds")
	}
	if !tokenPattern.MatchString(token) {
		return errs.Authentication("malformed token: invalid characters")
	}
	return nil
}

// Session is one active transport session. AuthToken is the validated
// token captured at creation, used by the dispatcher to resolve this
// session's HttpClient from the HttpClientFactory.
type Session struct {
	ID         string
	AuthToken  string
	CreatedAt  time.Time
	mu         sync.RWMutex
	lastActive time.Time
	destroyed  bool
}

func newSession(id, authToken string, now time.Time) *Session {
	return &Session{ID: id, AuthToken: authToken, CreatedAt: now, lastActive: now}
}

// touch refreshes last-activity time.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// expired reports whether the session has been idle longer than timeout
// as of now.
func (s *Session) expired(now time.Time, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActive) > timeout
}

// DestroyListener is notified exactly once per successful destruction.
type DestroyListener func(sessionID string)

// Store is the in-memory session table. All reads/writes go through a
// single mutex, per spec §5's shared-resource policy.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	timeout   time.Duration
	listeners []DestroyListener

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewStore builds a Store and starts its sweep loop at the given cadence.
func NewStore(timeout, sweepInterval time.Duration) *Store {
	st := &Store{
		sessions:  make(map[string]*Session),
		timeout:   timeout,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go st.sweepLoop(sweepInterval)
	return st
}

// OnDestroy registers a listener invoked once per successful destruction
// (including sweep-driven expiry).
func (st *Store) OnDestroy(l DestroyListener) {
	st.mu.Lock()
	st.listeners = append(st.listeners, l)
	st.mu.Unlock()
}

// Create mints a new session carrying the already-validated auth token, if
// any, and returns its id. Ids are 128 bits from crypto/rand encoded as
// unpadded base64url, per spec §4.7.
func (st *Store) Create(authToken string) string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("session: crypto/rand failed: " + err.Error())
	}
	id := base64.RawURLEncoding.EncodeToString(raw[:])
	now := time.Now()

	st.mu.Lock()
	st.sessions[id] = newSession(id, authToken, now)
	st.mu.Unlock()

	log.Debug().Str("session_id", id).Msg("session created")
	return id
}

// Get returns the session if it exists and has not expired, refreshing its
// activity timestamp as a side effect (mirrors the teacher's GetSession
// touch-on-read behavior).
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := time.Now()
	if s.expired(now, st.timeout) {
		st.Destroy(id)
		return nil, false
	}

	s.touch(now)
	return s, true
}

// Refresh extends a session's activity window without returning it.
func (st *Store) Refresh(id string) bool {
	_, ok := st.Get(id)
	return ok
}

// Destroy removes the session and notifies listeners exactly once. Safe to
// call on an unknown or already-destroyed id.
func (st *Store) Destroy(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return
	}
	delete(st.sessions, id)
	listeners := append([]DestroyListener(nil), st.listeners...)
	st.mu.Unlock()

	s.mu.Lock()
	alreadyDestroyed := s.destroyed
	s.destroyed = true
	s.mu.Unlock()
	if alreadyDestroyed {
		return
	}

	for _, l := range listeners {
		l(id)
	}
	log.Debug().Str("session_id", id).Msg("session destroyed")
}

// DestroyAll destroys every live session, for graceful shutdown.
func (st *Store) DestroyAll() {
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	for _, id := range ids {
		st.Destroy(id)
	}
}

// Count returns the number of live sessions, for /health reporting.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep destroys every session idle longer than the configured timeout as
// of now. Exported so tests can drive it deterministically instead of
// waiting on the ticker.
func (st *Store) Sweep(now time.Time) int {
	st.mu.RLock()
	var expired []string
	for id, s := range st.sessions {
		if s.expired(now, st.timeout) {
			expired = append(expired, id)
		}
	}
	st.mu.RUnlock()

	for _, id := range expired {
		st.Destroy(id)
	}
	return len(expired)
}

func (st *Store) sweepLoop(interval time.Duration) {
	defer close(st.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := st.Sweep(time.Now()); n > 0 {
				log.Debug().Int("count", n).Msg("swept expired sessions")
			}
		case <-st.sweepStop:
			return
		}
	}
}

// Stop halts the sweep goroutine. It does not destroy any sessions; callers
// that want that should call DestroyAll first, per spec §5 shutdown order.
func (st *Store) Stop() {
	close(st.sweepStop)
	<-st.sweepDone
}
