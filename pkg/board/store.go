package board

import (
	"sync"
)

// Store holds the current State of one board.
//
// Store is single-writer: only the goroutine that owns it (the session loop)
// calls Swap. Readers on any goroutine call Snapshot and get an immutable
// State; a write publishes a new State instead of editing the old one.
type Store struct {
	mu    sync.RWMutex
	state *State
}

// NewStore creates a store holding s
func NewStore(s *State) *Store {
	return &Store{state: s}
}

// Snapshot returns the current state. Callers must not modify it.
func (st *Store) Snapshot() *State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state
}

// Swap publishes next as the current state and returns the previous one
func (st *Store) Swap(next *State) *State {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.state
	st.state = next
	return prev
}
