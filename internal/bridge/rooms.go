package bridge

import (
	"github.com/flow-bridge/backend/internal/event"
)

// Join adds a session to a room, creating the room lazily on first join.
// cfg only applies at creation time. A join that would exceed the room's
// capacity fails with ErrRoomCapacityExceeded and leaves membership
// untouched; a join to an auth-required room by an unauthenticated
// session fails with ErrRoomAuthRequired.
func (b *Bridge) Join(sessionID, roomID string, cfg *RoomConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	r, ok := b.rooms[roomID]
	if !ok {
		now := b.now()
		r = &Room{
			ID:           roomID,
			members:      make(map[string]struct{}),
			createdAt:    now,
			lastActivity: now,
		}
		if cfg != nil {
			r.Capacity = cfg.Capacity
			r.RequireAuth = cfg.RequireAuth
			r.Metadata = cfg.Metadata
		}
		b.rooms[roomID] = r
	}

	if _, member := r.members[sessionID]; member {
		return nil
	}
	if r.RequireAuth && !s.Authed {
		return ErrRoomAuthRequired
	}
	if r.Capacity > 0 && len(r.members) >= r.Capacity {
		return ErrRoomCapacityExceeded
	}

	r.members[sessionID] = struct{}{}
	r.lastActivity = b.now()
	s.rooms[roomID] = struct{}{}
	return nil
}

// Leave removes a session from a room. Absent pairs are a no-op. Rooms
// left empty are only timestamped; the reaper deletes them once they
// have stayed empty past the staleness threshold, so a rapid rejoin
// finds the room intact.
func (b *Bridge) Leave(sessionID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		b.leaveRoomLocked(s, roomID)
	}
}

func (b *Bridge) leaveRoomLocked(s *Session, roomID string) {
	delete(s.rooms, roomID)
	r, ok := b.rooms[roomID]
	if !ok {
		return
	}
	if _, member := r.members[s.ID]; !member {
		return
	}
	delete(r.members, s.ID)
	r.lastActivity = b.now()
}

// Broadcast fans one envelope out to every current member of the room
// through the same per-session filter path as direct sends. Returns the
// number of members the envelope was handed to.
func (b *Bridge) Broadcast(roomID string, env *event.Envelope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rooms[roomID]
	if !ok {
		return 0
	}
	delivered := 0
	for id := range r.members {
		if err := b.sendLocked(id, env); err != nil {
			b.failed.Add(1)
			continue
		}
		delivered++
	}
	return delivered
}

// RoomMembers returns the member session ids of a room, or nil if the
// room does not exist.
func (b *Bridge) RoomMembers(roomID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(r.members))
	for id := range r.members {
		members = append(members, id)
	}
	return members
}
