package bridge

import (
	"testing"

	"github.com/flow-bridge/backend/internal/event"
)

func TestRoomBroadcastMembership(t *testing.T) {
	// B and C join room-1, both get the broadcast; after C leaves only
	// B gets the next one.
	b := New()
	chB := b.Register("B", RegisterOptions{})
	chC := b.Register("C", RegisterOptions{})

	if err := b.Join("B", "room-1", nil); err != nil {
		t.Fatalf("Join B: %v", err)
	}
	if err := b.Join("C", "room-1", nil); err != nil {
		t.Fatalf("Join C: %v", err)
	}

	if n := b.Broadcast("room-1", event.New(event.Generic, "exec-1", "e1")); n != 2 {
		t.Fatalf("Broadcast = %d, want 2", n)
	}
	recvEnv(t, chB)
	recvEnv(t, chC)

	b.Leave("C", "room-1")

	if n := b.Broadcast("room-1", event.New(event.Generic, "exec-1", "e2")); n != 1 {
		t.Fatalf("Broadcast after leave = %d, want 1", n)
	}
	recvEnv(t, chB)
	assertEmpty(t, chC)
}

func TestRoomCapacity(t *testing.T) {
	// room-2 has capacity 1; D joins, E is rejected and membership is
	// unchanged.
	b := New()
	b.Register("D", RegisterOptions{})
	b.Register("E", RegisterOptions{})

	if err := b.Join("D", "room-2", &RoomConfig{Capacity: 1}); err != nil {
		t.Fatalf("Join D: %v", err)
	}
	if err := b.Join("E", "room-2", nil); err != ErrRoomCapacityExceeded {
		t.Fatalf("Join E = %v, want ErrRoomCapacityExceeded", err)
	}

	members := b.RoomMembers("room-2")
	if len(members) != 1 || members[0] != "D" {
		t.Errorf("members = %v, want [D]", members)
	}
}

func TestRoomRejoinAtCapacityIsNoop(t *testing.T) {
	b := New()
	b.Register("D", RegisterOptions{})
	b.Join("D", "room-2", &RoomConfig{Capacity: 1})

	// Rejoining while at capacity must not fail: membership already
	// includes the session.
	if err := b.Join("D", "room-2", nil); err != nil {
		t.Errorf("rejoin = %v, want nil", err)
	}
	if got := len(b.RoomMembers("room-2")); got != 1 {
		t.Errorf("members = %d, want 1", got)
	}
}

func TestRoomRequireAuth(t *testing.T) {
	b := New()
	b.Register("anon", RegisterOptions{})
	b.Register("authed", RegisterOptions{Authed: true})

	b.Register("creator", RegisterOptions{Authed: true})
	if err := b.Join("creator", "vip", &RoomConfig{RequireAuth: true}); err != nil {
		t.Fatalf("Join creator: %v", err)
	}

	if err := b.Join("anon", "vip", nil); err != ErrRoomAuthRequired {
		t.Errorf("anon join = %v, want ErrRoomAuthRequired", err)
	}
	if err := b.Join("authed", "vip", nil); err != nil {
		t.Errorf("authed join = %v, want nil", err)
	}
}

func TestLeaveAbsentPairIsNoop(t *testing.T) {
	b := New()
	b.Register("s", RegisterOptions{})

	b.Leave("s", "never-joined")
	b.Leave("ghost", "never-joined")
}

func TestJoinUnknownSession(t *testing.T) {
	b := New()
	if err := b.Join("ghost", "room-1", nil); err != ErrSessionNotFound {
		t.Errorf("Join = %v, want ErrSessionNotFound", err)
	}
	if b.RoomCount() != 0 {
		t.Error("failed join must not leave a room behind")
	}
}

func TestBroadcastAppliesMemberFilters(t *testing.T) {
	b := New()
	chTok := b.Register("tok", RegisterOptions{})
	chAll := b.Register("all", RegisterOptions{})
	b.Join("tok", "room-1", nil)
	b.Join("all", "room-1", nil)
	b.SetEventFilter("tok", []event.Kind{event.Token})

	b.Broadcast("room-1", event.New(event.Progress, "exec-1", nil))

	assertEmpty(t, chTok)
	recvEnv(t, chAll)
}

func TestEmptyRoomSurvivesLeave(t *testing.T) {
	b := New()
	b.Register("s", RegisterOptions{})
	b.Join("s", "room-1", nil)
	b.Leave("s", "room-1")

	// Deletion is the reaper's job; a rapid rejoin finds the room.
	if b.RoomCount() != 1 {
		t.Error("empty room should survive until reaped")
	}
	if err := b.Join("s", "room-1", nil); err != nil {
		t.Errorf("rejoin = %v, want nil", err)
	}
}

func TestUnregisterLeavesRooms(t *testing.T) {
	b := New()
	b.Register("s", RegisterOptions{Rooms: []string{"room-1", "room-2"}})
	b.Unregister("s")

	if got := len(b.RoomMembers("room-1")); got != 0 {
		t.Errorf("room-1 members = %d, want 0", got)
	}
	if got := len(b.RoomMembers("room-2")); got != 0 {
		t.Errorf("room-2 members = %d, want 0", got)
	}
}
