package session

import (
	"errors"
	"sync"
)

// ErrInvalidSession rejects registration of sessions missing an ID or user.
var ErrInvalidSession = errors.New("session id and user id are required")

// Registry maps each user to their set of live sessions. All operations are
// O(1) per session and safe under concurrent connect/disconnect traffic; no
// lock is held across I/O.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Session
	byID   map[string]*Session
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Session),
		byID:   make(map[string]*Session),
	}
}

// Register inserts a session. Idempotent for an already-registered session.
// The returned flag reports whether this is the user's first live session
// (the user just came online).
func (r *Registry) Register(s *Session) (cameOnline bool, err error) {
	if s == nil || s.ID == "" || s.UserID == "" {
		return false, ErrInvalidSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byUser[s.UserID]
	if !ok {
		set = make(map[string]*Session)
		r.byUser[s.UserID] = set
	}
	if _, exists := set[s.ID]; exists {
		return false, nil
	}
	cameOnline = len(set) == 0
	set[s.ID] = s
	r.byID[s.ID] = s
	return cameOnline, nil
}

// Deregister removes a session by ID and cancels it. Idempotent. The returned
// flag reports whether the owning user's session set became empty (the user
// just went offline).
func (r *Registry) Deregister(sessionID string) (s *Session, wentOffline bool) {
	r.mu.Lock()
	s, ok := r.byID[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.byID, sessionID)
	set := r.byUser[s.UserID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byUser, s.UserID)
		wentOffline = true
	}
	r.mu.Unlock()

	s.Close()
	return s, wentOffline
}

// SessionsFor returns a snapshot of the user's live sessions.
func (r *Registry) SessionsFor(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Get looks a session up by ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[sessionID]
	return s, ok
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
