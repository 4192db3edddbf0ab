// Package board holds the shared server-side state engine: the session
// registry (username uniqueness, per-client outboxes) and the group
// registry (membership, per-group append-only message stores).
//
// The two registries each guard their state with a single mutex; all
// cross-client fan-out goes through bounded per-session outboxes so a
// slow reader can never stall the goroutine committing a state change.
package board

import (
	"errors"
	"sync"
)

// OutboxSize bounds the number of undelivered lines queued per session.
// When the outbox is full, further events to that session are dropped.
const OutboxSize = 256

var ErrUsernameInUse = errors.New("board: username already registered")

// Session is the server-side state for one connection. It is created when
// the connection is accepted (before authentication) and bound to a
// username by SessionRegistry.Register. All lines destined for the client,
// synchronous replies and asynchronous events alike, are enqueued on the
// outbox and drained by the connection's writer goroutine: the outbox
// channel has exactly one consumer.
type Session struct {
	ID       string // connection id, unique per accept
	Username string // set by Register, empty until authenticated

	mu     sync.Mutex
	closed bool
	out    chan string
}

// NewSession creates an unauthenticated session with an empty outbox.
func NewSession(id string) *Session {
	return &Session{
		ID:  id,
		out: make(chan string, OutboxSize),
	}
}

// Send enqueues one line for delivery without blocking. It reports false
// if the session is closed or its outbox is full (the line is dropped).
func (s *Session) Send(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- line:
		return true
	default:
		return false
	}
}

// Close marks the session closed and closes the outbox so the writer
// goroutine drains any queued lines and exits. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Outbox returns the delivery channel drained by the connection's writer.
func (s *Session) Outbox() <-chan string {
	return s.out
}

// SessionRegistry maps live usernames to sessions. It is the single source
// of truth for username uniqueness.
type SessionRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Session
}

// NewSessionRegistry creates an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byName: make(map[string]*Session),
	}
}

// Register atomically checks and reserves a username for sess. It fails
// with ErrUsernameInUse if the name is bound to another live session.
// Usernames are case-sensitive exact matches.
func (r *SessionRegistry) Register(sess *Session, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[username]; taken {
		return ErrUsernameInUse
	}
	sess.Username = username
	r.byName[username] = sess
	return nil
}

// Unregister releases sess's username binding. The name becomes available
// again immediately. Idempotent, and a no-op if the name was since
// rebound to a different session.
func (r *SessionRegistry) Unregister(sess *Session) {
	if sess.Username == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName[sess.Username] == sess {
		delete(r.byName, sess.Username)
	}
}

// Lookup returns the live session bound to username, if any.
func (r *SessionRegistry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[username]
	return s, ok
}

// Count returns the number of authenticated sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// All returns a snapshot of every authenticated session (used at shutdown).
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		result = append(result, s)
	}
	return result
}
