package landmark

import "sync"

// Slot is a single-entry frame handoff between the capture loop and the
// statistics loop. Writes never block: a full slot is overwritten so the
// consumer always sees the latest frame and the producer never queues
// unboundedly. Under load the stats loop skips frames instead of lagging.
type Slot struct {
	mu     sync.Mutex
	obs    *Observation
	closed bool
}

// NewSlot returns an empty Slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Put stores obs, replacing any frame the consumer has not taken yet.
// Put after Close is a no-op.
func (s *Slot) Put(obs *Observation) {
	s.mu.Lock()
	if !s.closed {
		s.obs = obs
	}
	s.mu.Unlock()
}

// Take removes and returns the stored frame, or nil if the slot is empty.
func (s *Slot) Take() *Observation {
	s.mu.Lock()
	obs := s.obs
	s.obs = nil
	s.mu.Unlock()
	return obs
}

// Close marks the slot closed. Used by the capture loop to signal that no
// further frames will arrive.
func (s *Slot) Close() {
	s.mu.Lock()
	s.closed = true
	s.obs = nil
	s.mu.Unlock()
}

// Closed reports whether the producer has shut down.
func (s *Slot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
