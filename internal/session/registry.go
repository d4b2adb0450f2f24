package session

import "sync"

// Registry is the authoritative store of session state, keyed by user
// identifier. It is an injectable instance rather than a package-level
// singleton so tests can run against isolated registries.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for a user, or nil if none exists
func (r *Registry) Get(user string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[user]
}

// GetOrCreate returns the existing session for a user, inserting a fresh one
// with all flags cleared if none exists. Concurrent callers for the same user
// always observe the same *Session.
func (r *Registry) GetOrCreate(user string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, exists := r.sessions[user]; exists {
		return s
	}

	s := &Session{User: user}
	r.sessions[user] = s
	return s
}

// All returns a copy of the current session set
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
