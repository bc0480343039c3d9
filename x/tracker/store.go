package tracker

import (
	"sync"
	"time"
)

// Snapshot is a read-only view of the store for reporting.
type Snapshot struct {
	State     TrackedState `json:"state"`
	Tracking  bool         `json:"tracking"`
	UpdatedAt time.Time    `json:"updated_at"`
	Changes   uint64       `json:"changes"`
}

// Store holds the single tracked state. Replacement is whole-value; the lock
// is held only for the comparison and the swap, never across I/O.
type Store struct {
	mu        sync.RWMutex
	current   *TrackedState
	updatedAt time.Time
	changes   uint64
	now       func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Read returns a copy of the tracked state, or false when nothing is tracked yet.
func (s *Store) Read() (TrackedState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return TrackedState{}, false
	}
	return s.current.clone(), true
}

// CompareAndReplace stores next and returns true when the store was empty or
// the stored (stage, file) pair differs from next's. Otherwise it is a no-op.
func (s *Store) CompareAndReplace(next TrackedState) bool {
	value := next.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.sameKey(value) {
		return false
	}
	s.current = &value
	s.updatedAt = s.now()
	s.changes++
	return true
}

// Reset clears the slot.
func (s *Store) Reset() {
	s.mu.Lock()
	s.current = nil
	s.updatedAt = s.now()
	s.mu.Unlock()
}

// Snapshot returns the state along with bookkeeping used by the status API.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{UpdatedAt: s.updatedAt, Changes: s.changes}
	if s.current != nil {
		snap.State = s.current.clone()
		snap.Tracking = true
	}
	return snap
}

func (s TrackedState) clone() TrackedState {
	if s.ProofSetID != nil {
		id := *s.ProofSetID
		s.ProofSetID = &id
	}
	return s
}
