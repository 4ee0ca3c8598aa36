package hass

import (
	"sync"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Sink receives entity state changes from a state feed. Implementations must
// not block since they are called from the feed's reader goroutine.
type Sink interface {
	SetStates(states types.States)
	UpdateState(id string, st types.State)
}

// States is a concurrency safe entity state store. It satisfies both Sink and
// graph.StateLookup.
type States struct {
	mu     sync.RWMutex
	states types.States
}

// NewStates returns an empty store.
func NewStates() *States {
	return &States{states: make(types.States)}
}

// State implements graph.StateLookup.
func (s *States) State(id string) (types.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok
}

// SetStates replaces the whole store.
func (s *States) SetStates(states types.States) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = states.Clone()
}

// UpdateState sets the state of a single entity.
func (s *States) UpdateState(id string, st types.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st
}

// Snapshot returns a copy of the current states.
func (s *States) Snapshot() types.States {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states.Clone()
}

// Len returns the number of known entities.
func (s *States) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
