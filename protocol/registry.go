package protocol

import (
	"sync"

	"github.com/google/uuid"

	"github.com/evalgo/docsync/internal/obs"
)

// outboundBuffer bounds how far a session's outbound queue may lag before
// it is treated as a slow consumer and ejected.
const outboundBuffer = 256

// Session is one authenticated connection's outbound side, identified by a
// per-connection client_id.
type Session struct {
	ClientID string
	UserID   uuid.UUID
	outbound chan Envelope
}

// Send enqueues env for delivery, returning false if the session's
// outbound channel is full (slow consumer).
func (s *Session) Send(env Envelope) bool {
	select {
	case s.outbound <- env:
		return true
	default:
		return false
	}
}

// Outbound exposes the channel the connection's writer goroutine drains.
func (s *Session) Outbound() <-chan Envelope { return s.outbound }

// Registry tracks live sessions per user with one mutex per user entry, so
// broadcast to one user never contends with registration/lookup for
// another.
type Registry struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*userEntry
}

type userEntry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[uuid.UUID]*userEntry)}
}

func (r *Registry) entryFor(userID uuid.UUID) *userEntry {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.users[userID]; ok {
		return e
	}
	e = &userEntry{sessions: make(map[string]*Session)}
	r.users[userID] = e
	return e
}

// Register adds a new session for userID and returns it.
func (r *Registry) Register(userID uuid.UUID, clientID string) *Session {
	s := &Session{ClientID: clientID, UserID: userID, outbound: make(chan Envelope, outboundBuffer)}
	e := r.entryFor(userID)
	e.mu.Lock()
	e.sessions[clientID] = s
	e.mu.Unlock()
	return s
}

// Unregister removes a session, e.g. on disconnect.
func (r *Registry) Unregister(userID uuid.UUID, clientID string) {
	e := r.entryFor(userID)
	e.mu.Lock()
	delete(e.sessions, clientID)
	e.mu.Unlock()
}

// Broadcast enqueues env to every live session of userID. Sessions whose
// outbound queue is full are ejected.
func (r *Registry) Broadcast(userID uuid.UUID, env Envelope) {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	for clientID, sess := range e.sessions {
		if !sess.Send(env) {
			obs.Logger.WithFields(map[string]interface{}{
				"user_id":   userID,
				"client_id": clientID,
			}).Warn("protocol: ejecting slow-consumer session")
			close(sess.outbound)
			delete(e.sessions, clientID)
		}
	}
}

// SessionCount returns the number of live sessions for userID, used in
// tests and diagnostics.
func (r *Registry) SessionCount(userID uuid.UUID) int {
	e := r.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
