package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flow-bridge/backend/internal/event"
)

// outboundBuffer is the per-session outbound channel capacity. A session
// whose consumer falls this far behind starts losing envelopes; drops are
// counted as delivery failures rather than blocking the fan-out.
const outboundBuffer = 64

// Session is one logical subscriber, independent of transport. A session
// owns exactly one outbound channel for its lifetime; the channel is
// closed exactly once, on destruction.
type Session struct {
	ID          string
	ExecutionID string
	Metadata    map[string]any
	Authed      bool
	filter      map[event.Kind]struct{}
	rooms       map[string]struct{}
	out         chan *event.Envelope
	createdAt   time.Time
	merger      *Merger

	// Unix nanos. Atomic because delivery paths touch it under the read
	// lock while the reaper's stale scan reads it concurrently.
	lastActivity atomic.Int64
}

func (s *Session) touch(t time.Time) { s.lastActivity.Store(t.UnixNano()) }

func (s *Session) lastSeen() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// Room is a named broadcast group, created lazily on first join.
type Room struct {
	ID           string
	Capacity     int // 0 = unlimited
	RequireAuth  bool
	Metadata     map[string]any
	members      map[string]struct{}
	createdAt    time.Time
	lastActivity time.Time
}

// RoomConfig carries optional settings applied when a join creates the
// room. Settings on joins to an existing room are ignored.
type RoomConfig struct {
	Capacity    int
	RequireAuth bool
	Metadata    map[string]any
}

// DeliveryStats counts fan-out outcomes. Counters only ever increase.
type DeliveryStats struct {
	Delivered uint64
	Filtered  uint64
	Failed    uint64
}

// Bridge owns the session registry, room directory, and execution index.
// One mutex guards all three so that any pair of mutations is serialized:
// the execution index and room membership can never disagree with the
// session map.
type Bridge struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	rooms     map[string]*Room
	execIndex map[string]map[string]struct{}

	delivered atomic.Uint64
	filtered  atomic.Uint64
	failed    atomic.Uint64

	now func() time.Time // test hook
}

func New() *Bridge {
	return &Bridge{
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]*Room),
		execIndex: make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

// Stats returns a snapshot of the delivery counters.
func (b *Bridge) Stats() DeliveryStats {
	return DeliveryStats{
		Delivered: b.delivered.Load(),
		Filtered:  b.filtered.Load(),
		Failed:    b.failed.Load(),
	}
}

// SessionCount returns the number of live sessions.
func (b *Bridge) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// RoomCount returns the number of rooms, including empty ones not yet
// reaped.
func (b *Bridge) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}
