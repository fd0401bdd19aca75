package proxy

import (
	"sync"
)

// Registry owns the live sessions, keyed by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint64]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint64]Session)}
}

// Add inserts s. Adding an id that is already present replaces nothing and
// returns false.
func (r *Registry) Add(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; ok {
		return false
	}
	r.sessions[s.ID()] = s
	sessionsActive.WithLabelValues(s.Kind().String()).Inc()
	return true
}

// Remove deletes the session with id and reports whether it was present.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	sessionsActive.WithLabelValues(s.Kind().String()).Dec()
	return true
}

func (r *Registry) Get(id uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// CloseAll closes every live session. Sessions remove themselves through
// their end notification.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	live := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Close()
	}
}
