package gateway

import (
	"math"
	"testing"
	"time"
)

func TestStatsEWMA(t *testing.T) {
	s := NewStats()

	// First sample seeds the average.
	s.ObserveProcessing(10 * time.Millisecond)
	if got := s.Snapshot().AvgProcessingMs; got != 10 {
		t.Fatalf("avg after seed = %v, want 10", got)
	}

	// avg = 10*0.9 + 20*0.1 = 11
	s.ObserveProcessing(20 * time.Millisecond)
	if got := s.Snapshot().AvgProcessingMs; math.Abs(got-11) > 0.001 {
		t.Errorf("avg = %v, want 11", got)
	}
}

func TestStatsErrorCategories(t *testing.T) {
	s := NewStats()
	s.CountError(CategoryValidation)
	s.CountError(CategoryValidation)
	s.CountError(CategoryInternal)

	snap := s.Snapshot()
	if snap.ErrorsByCategory[CategoryValidation] != 2 {
		t.Errorf("validation = %d, want 2", snap.ErrorsByCategory[CategoryValidation])
	}
	if snap.ErrorsByCategory[CategoryInternal] != 1 {
		t.Errorf("internal = %d, want 1", snap.ErrorsByCategory[CategoryInternal])
	}
	if snap.ErrorsByCategory[CategoryConnection] != 0 {
		t.Errorf("connection = %d, want 0", snap.ErrorsByCategory[CategoryConnection])
	}
}

func TestStatsSnapshotIsCopy(t *testing.T) {
	s := NewStats()
	s.CountError(CategoryConnection)

	snap := s.Snapshot()
	snap.ErrorsByCategory[CategoryConnection] = 99

	if got := s.Snapshot().ErrorsByCategory[CategoryConnection]; got != 1 {
		t.Errorf("mutating a snapshot leaked into the stats: %d", got)
	}
}

func TestConnStateTransitions(t *testing.T) {
	c := &Connection{}
	if c.State() != StateConnecting {
		t.Fatalf("initial state = %v, want connecting", c.State())
	}

	c.setState(StateConnected)
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}

	// The lifecycle never moves backwards.
	c.setState(StateDisconnected)
	c.setState(StateConnected)
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected (terminal)", c.State())
	}
}

func TestConnStateNames(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDisconnecting, "disconnecting"},
		{StateDisconnected, "disconnected"},
		{ConnState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
