package bridge

import (
	"github.com/flow-bridge/backend/internal/event"
)

// Bind points a session at an execution, replacing any prior binding. A
// session is bound to at most one execution at a time; fan-in from
// several executions goes through rooms or extra sessions instead.
func (b *Bridge) Bind(sessionID, executionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	b.unbindLocked(s)
	b.bindLocked(s, executionID)
	return nil
}

// Unbind clears a session's execution binding. Unknown ids are a no-op.
func (b *Bridge) Unbind(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		b.unbindLocked(s)
	}
}

func (b *Bridge) bindLocked(s *Session, executionID string) {
	members, ok := b.execIndex[executionID]
	if !ok {
		members = make(map[string]struct{})
		b.execIndex[executionID] = members
	}
	members[s.ID] = struct{}{}
	s.ExecutionID = executionID
}

// unbindLocked keeps the index free of empty sets: the execution key is
// deleted when its last member unbinds.
func (b *Bridge) unbindLocked(s *Session) {
	if s.ExecutionID == "" {
		return
	}
	if members, ok := b.execIndex[s.ExecutionID]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(b.execIndex, s.ExecutionID)
		}
	}
	s.ExecutionID = ""
}

// Route fans an envelope out to every session bound to the execution.
func (b *Bridge) Route(executionID string, env *event.Envelope) int {
	return b.DeliverToExecution(executionID, env)
}

// ExecutionSubscribers returns how many sessions are bound to the
// execution.
func (b *Bridge) ExecutionSubscribers(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.execIndex[executionID])
}
