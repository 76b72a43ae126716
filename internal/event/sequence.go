package event

import "sync"

// Sequencer hands out per-execution sequence numbers. Numbers start at 1
// and are monotonic within a single execution; no ordering is implied
// across executions. Counters for finished executions are dropped via
// Forget so the map does not grow without bound.
type Sequencer struct {
	mu   sync.Mutex
	next map[string]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[string]uint64)}
}

// Next returns the next sequence number for the execution.
func (s *Sequencer) Next(executionID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[executionID]++
	return s.next[executionID]
}

// Stamp assigns the envelope's sequence number in place and returns the
// envelope for chaining.
func (s *Sequencer) Stamp(env *Envelope) *Envelope {
	env.Meta.Sequence = s.Next(env.Meta.ExecutionID)
	return env
}

// Forget drops the counter for a finished execution.
func (s *Sequencer) Forget(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.next, executionID)
}
