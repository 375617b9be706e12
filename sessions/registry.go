package sessions

import (
	"strings"
	"sync"
)

// Registry is a concurrent map of live sessions keyed case-insensitively by
// session id. Per-id operations are linearizable; there is no cross-session
// ordering guarantee.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// TryAdd admits a session. It returns false, leaving the registry unchanged,
// if the id is already present. The losing candidate is not disposed here;
// that is the caller's responsibility.
func (r *Registry) TryAdd(s *Session) bool {
	key := strings.ToLower(s.ID())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[key]; exists {
		return false
	}
	r.sessions[key] = s
	return true
}

// TryGet looks a session up by id.
func (r *Registry) TryGet(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[strings.ToLower(id)]
	return s, ok
}

// TryRemove removes and returns the session for id. The returned session is
// owned by the caller: holding the removed record is the exclusive license
// to dispose it.
func (r *Registry) TryRemove(id string) (*Session, bool) {
	key := strings.ToLower(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	delete(r.sessions, key)
	return s, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
