package api

import (
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/tagfeed/internal/session"
)

var (
	errSessionNotFound = errors.New("session not found")
	errRegistryFull    = errors.New("too many sessions")
)

// registry is an in-memory, bounded set of live sessions.
type registry struct {
	mu       sync.RWMutex
	max      int
	sessions map[string]*session.Session
}

func newRegistry(maxSessions int) *registry {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &registry{max: maxSessions, sessions: make(map[string]*session.Session)}
}

func (r *registry) add(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.max {
		return errRegistryFull
	}
	r.sessions[s.ID()] = s
	return nil
}

func (r *registry) get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	return s, nil
}

func (r *registry) remove(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	delete(r.sessions, id)
	return s, nil
}

func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// closeAll closes and forgets every session.
func (r *registry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
