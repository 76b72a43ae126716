package bridge

import (
	"context"
	"log"
	"time"
)

// Reaper periodically evicts stale sessions and deletes rooms that have
// stayed empty past their staleness threshold. Both sweeps are
// idempotent and run concurrently with ordinary traffic.
type Reaper struct {
	bridge *Bridge

	SessionSweepInterval time.Duration
	RoomSweepInterval    time.Duration
	SessionStaleAfter    time.Duration
	RoomStaleAfter       time.Duration
}

func NewReaper(b *Bridge) *Reaper {
	return &Reaper{
		bridge:               b,
		SessionSweepInterval: time.Minute,
		RoomSweepInterval:    5 * time.Minute,
		SessionStaleAfter:    5 * time.Minute,
		RoomStaleAfter:       10 * time.Minute,
	}
}

// Start runs both sweep loops until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	go r.loop(ctx, r.SessionSweepInterval, r.SweepSessions)
	go r.loop(ctx, r.RoomSweepInterval, r.SweepRooms)
}

func (r *Reaper) loop(ctx context.Context, interval time.Duration, sweep func(time.Time) int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// SweepSessions evicts every session idle past the staleness threshold
// through the full unregister path, so execution bindings and room
// memberships go with it. Returns the number of sessions evicted.
func (r *Reaper) SweepSessions(now time.Time) int {
	r.bridge.mu.RLock()
	var stale []string
	for id, s := range r.bridge.sessions {
		if now.Sub(s.lastSeen()) > r.SessionStaleAfter {
			stale = append(stale, id)
		}
	}
	r.bridge.mu.RUnlock()

	for _, id := range stale {
		log.Printf("reaper: evicting stale session %s", id)
		r.bridge.Unregister(id)
	}
	return len(stale)
}

// SweepRooms deletes rooms that have had zero members for longer than
// the staleness threshold. Rooms that merely emptied recently survive,
// so a rapid leave/rejoin does not thrash room state. Returns the
// number of rooms deleted.
func (r *Reaper) SweepRooms(now time.Time) int {
	r.bridge.mu.Lock()
	defer r.bridge.mu.Unlock()

	deleted := 0
	for id, room := range r.bridge.rooms {
		if len(room.members) == 0 && now.Sub(room.lastActivity) > r.RoomStaleAfter {
			delete(r.bridge.rooms, id)
			deleted++
		}
	}
	if deleted > 0 {
		log.Printf("reaper: deleted %d stale rooms", deleted)
	}
	return deleted
}
