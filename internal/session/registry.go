package session

import (
	"sort"
	"sync"

	"github.com/lexiqai/scribe/internal/audio"
)

// Registry maps rooms to their live session. It is the only structure shared
// by every call path.
type Registry struct {
	mu       sync.Mutex
	format   audio.Format
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions record in format
func NewRegistry(format audio.Format) *Registry {
	return &Registry{
		format:   format,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the room's session, creating an Idle one when the room
// has none or only a Closed one
func (r *Registry) GetOrCreate(room string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[room]; ok && s.State() != StateClosed {
		return s
	}
	s := New(room, r.format)
	r.sessions[room] = s
	return s
}

// Get returns the room's session if present
func (r *Registry) Get(room string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[room]
	return s, ok
}

// Remove drops the room's entry. Removing an absent room is a no-op.
func (r *Registry) Remove(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, room)
}

// RemoveSession drops the room's entry only if it still holds s, so a stale
// pipeline never evicts a newer session for the same room
func (r *Registry) RemoveSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.Room()]; ok && cur == s {
		delete(r.sessions, s.Room())
	}
}

// Len returns the number of tracked rooms
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns the tracked sessions ordered by room
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Room() < out[j].Room() })
	return out
}

// CloseAll force-closes and removes every session
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.ForceClose()
	}
}
