package bridge

import (
	"log"
	"sort"
	"time"

	"github.com/flow-bridge/backend/internal/event"
)

// RegisterOptions declares a session's initial interest.
type RegisterOptions struct {
	ExecutionID string
	Rooms       []string
	Metadata    map[string]any
	Authed      bool
}

// Register creates a session and returns its outbound channel. A second
// Register with the same id is idempotent: it logs a warning and returns
// the existing channel without touching the session's state.
func (b *Bridge) Register(id string, opts RegisterOptions) <-chan *event.Envelope {
	b.mu.Lock()

	if existing, ok := b.sessions[id]; ok {
		b.mu.Unlock()
		log.Printf("bridge: session %s already registered, returning existing channel", id)
		return existing.out
	}

	now := b.now()
	s := &Session{
		ID:          id,
		ExecutionID: opts.ExecutionID,
		Metadata:    opts.Metadata,
		Authed:      opts.Authed,
		filter:      make(map[event.Kind]struct{}),
		rooms:       make(map[string]struct{}),
		out:         make(chan *event.Envelope, outboundBuffer),
		createdAt:   now,
	}
	s.touch(now)
	b.sessions[id] = s
	s.merger = newMerger(b, id)

	if opts.ExecutionID != "" {
		b.bindLocked(s, opts.ExecutionID)
	}
	b.mu.Unlock()

	for _, roomID := range opts.Rooms {
		if err := b.Join(id, roomID, nil); err != nil {
			log.Printf("bridge: session %s could not join room %s: %v", id, roomID, err)
		}
	}

	return s.out
}

// Unregister destroys a session: its channel is closed, its execution
// binding and room memberships are removed, and its merger is stopped.
// Unregistering an unknown id is a no-op.
func (b *Bridge) Unregister(id string) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if !ok {
		b.mu.Unlock()
		return
	}

	delete(b.sessions, id)
	b.unbindLocked(s)
	for roomID := range s.rooms {
		b.leaveRoomLocked(s, roomID)
	}
	// Deletion and close happen in one critical section; sendLocked can
	// never observe the session after its channel closes.
	close(s.out)
	merger := s.merger
	b.mu.Unlock()

	// Merger shutdown waits for pump goroutines; never under the lock.
	if merger != nil {
		merger.Stop()
	}
}

// SetEventFilter replaces the session's event-kind filter. An empty kinds
// slice clears it (accept all).
func (b *Bridge) SetEventFilter(id string, kinds []event.Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.filter = make(map[event.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		s.filter[k] = struct{}{}
	}
	return nil
}

// ClearEventFilter resets the session to accept all kinds.
func (b *Bridge) ClearEventFilter(id string) error {
	return b.SetEventFilter(id, nil)
}

// Touch records activity on a session so the reaper keeps it alive.
func (b *Bridge) Touch(id string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.sessions[id]; ok {
		s.touch(b.now())
	}
}

// SetAuthed marks the session as authenticated.
func (b *Bridge) SetAuthed(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Authed = true
	return nil
}

// Send delivers one envelope to one session if its filter accepts the
// envelope's kind. An empty filter accepts everything. A full outbound
// channel is a counted delivery failure, not an error to the caller;
// only a missing session is reported.
func (b *Bridge) Send(id string, env *event.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sendLocked(id, env)
}

// sendLocked requires at least a read lock. The channel send is
// non-blocking, so holding the lock across it is safe; close only ever
// happens under the write lock, which cannot overlap.
func (b *Bridge) sendLocked(id string, env *event.Envelope) error {
	s, ok := b.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if len(s.filter) > 0 {
		if _, want := s.filter[env.Kind]; !want {
			b.filtered.Add(1)
			return nil
		}
	}
	select {
	case s.out <- env:
		s.touch(b.now())
		b.delivered.Add(1)
	default:
		b.failed.Add(1)
		log.Printf("bridge: session %s outbound full, dropping %s envelope", id, env.Kind)
	}
	return nil
}

// DeliverToExecution fans one envelope out to every session bound to the
// execution. Per-session failures are counted and skipped so one broken
// session never blocks delivery to the rest. Returns the number of
// sessions the envelope was handed to.
func (b *Bridge) DeliverToExecution(executionID string, env *event.Envelope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id := range b.execIndex[executionID] {
		if err := b.sendLocked(id, env); err != nil {
			b.failed.Add(1)
			continue
		}
		delivered++
	}
	return delivered
}

// SessionInfo is a copy-out snapshot of a session's public state.
type SessionInfo struct {
	ID           string
	ExecutionID  string
	Rooms        []string
	FilterKinds  []event.Kind
	Authed       bool
	CreatedAt    time.Time
	LastActivity time.Time
}

// SessionInfo snapshots one session. The returned slices are copies;
// mutating them does not touch the live session.
func (b *Bridge) SessionInfo(id string) (SessionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	info := SessionInfo{
		ID:           s.ID,
		ExecutionID:  s.ExecutionID,
		Authed:       s.Authed,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastSeen(),
	}
	for roomID := range s.rooms {
		info.Rooms = append(info.Rooms, roomID)
	}
	sort.Strings(info.Rooms)
	for k := range s.filter {
		info.FilterKinds = append(info.FilterKinds, k)
	}
	return info, nil
}

// Subscriptions reports how many distinct interests a session holds: the
// execution binding, each room, and the event filter if set.
func (b *Bridge) Subscriptions(id string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	n := len(s.rooms)
	if s.ExecutionID != "" {
		n++
	}
	if len(s.filter) > 0 {
		n++
	}
	return n, nil
}

// Merger returns the session's stream merger, used to attach upstream
// producer streams after registration.
func (b *Bridge) Merger(id string) (*Merger, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.merger, nil
}
