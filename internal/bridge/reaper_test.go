package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/flow-bridge/backend/internal/event"
)

func TestSweepSessionsEvictsStale(t *testing.T) {
	b := New()
	base := time.Now()
	b.now = func() time.Time { return base }

	b.Register("stale", RegisterOptions{ExecutionID: "exec-1", Rooms: []string{"room-1"}})
	b.Register("fresh", RegisterOptions{ExecutionID: "exec-1"})

	// Only "fresh" sees activity inside the staleness window.
	b.now = func() time.Time { return base.Add(4 * time.Minute) }
	b.Touch("fresh")

	r := NewReaper(b)
	if n := r.SweepSessions(base.Add(6 * time.Minute)); n != 1 {
		t.Fatalf("SweepSessions = %d, want 1", n)
	}

	if b.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", b.SessionCount())
	}
	if got := len(b.RoomMembers("room-1")); got != 0 {
		t.Errorf("room-1 members = %d, want 0 after eviction", got)
	}
	assertIndexConsistent(t, b)

	// Routing still reaches the surviving session only.
	if n := b.Route("exec-1", event.New(event.Token, "exec-1", nil)); n != 1 {
		t.Errorf("Route = %d, want 1", n)
	}
}

func TestSweepSessionsIdempotent(t *testing.T) {
	b := New()
	base := time.Now()
	b.now = func() time.Time { return base }
	b.Register("s", RegisterOptions{})

	r := NewReaper(b)
	sweepAt := base.Add(10 * time.Minute)
	if n := r.SweepSessions(sweepAt); n != 1 {
		t.Fatalf("first sweep = %d, want 1", n)
	}
	if n := r.SweepSessions(sweepAt); n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
}

func TestSweepRooms(t *testing.T) {
	b := New()
	base := time.Now()
	b.now = func() time.Time { return base }

	b.Register("s", RegisterOptions{})
	b.Join("s", "old-empty", nil)
	b.Leave("s", "old-empty")

	// A second room empties much later; it is inside the staleness
	// window when the sweep runs.
	b.now = func() time.Time { return base.Add(15 * time.Minute) }
	b.Join("s", "new-empty", nil)
	b.Leave("s", "new-empty")

	b.Join("s", "occupied", nil)

	r := NewReaper(b)
	if n := r.SweepRooms(base.Add(16 * time.Minute)); n != 1 {
		t.Fatalf("SweepRooms = %d, want 1", n)
	}

	if b.RoomCount() != 2 {
		t.Errorf("RoomCount = %d, want 2 (occupied + recently emptied)", b.RoomCount())
	}
	if b.RoomMembers("old-empty") != nil {
		t.Error("old-empty should be deleted")
	}
}

func TestReaperDefaults(t *testing.T) {
	r := NewReaper(New())

	if r.SessionSweepInterval != time.Minute {
		t.Errorf("SessionSweepInterval = %v, want 1m", r.SessionSweepInterval)
	}
	if r.RoomSweepInterval != 5*time.Minute {
		t.Errorf("RoomSweepInterval = %v, want 5m", r.RoomSweepInterval)
	}
	if r.SessionStaleAfter != 5*time.Minute {
		t.Errorf("SessionStaleAfter = %v, want 5m", r.SessionStaleAfter)
	}
	if r.RoomStaleAfter != 10*time.Minute {
		t.Errorf("RoomStaleAfter = %v, want 10m", r.RoomStaleAfter)
	}
}

func TestSweepSessionsConcurrentWithDelivery(t *testing.T) {
	// Fan-out refreshes session activity while the stale scan reads it;
	// both run concurrently without synchronizing on the write lock, so
	// this must be clean under the race detector.
	b := New()
	b.Register("s", RegisterOptions{ExecutionID: "exec-1"})
	r := NewReaper(b)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b.DeliverToExecution("exec-1", event.New(event.Token, "exec-1", nil))
			}
		}()
	}

	done := make(chan struct{})
	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		for {
			select {
			case <-done:
				return
			default:
				r.SweepSessions(time.Now())
			}
		}
	}()

	wg.Wait()
	close(done)
	sweeper.Wait()

	// Activity stayed fresh throughout, so the session survives.
	if b.SessionCount() != 1 {
		t.Errorf("SessionCount = %d, want 1", b.SessionCount())
	}
}
