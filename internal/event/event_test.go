package event

import (
	"encoding/json"
	"testing"
)

func TestKindJSONRoundTrip(t *testing.T) {
	kinds := []Kind{Token, Progress, Milestone, NodeStart, NodeComplete, Error, Generic}

	for _, k := range kinds {
		data, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var got Kind
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != k {
			t.Errorf("round trip %v: got %v", k, got)
		}
	}
}

func TestKindUnmarshalRejectsUnknown(t *testing.T) {
	var k Kind
	if err := json.Unmarshal([]byte(`"frobnicate"`), &k); err == nil {
		t.Error("unknown kind name should not unmarshal")
	}
	if err := json.Unmarshal([]byte(`42`), &k); err == nil {
		t.Error("non-string kind should not unmarshal")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name string
		want Kind
		ok   bool
	}{
		{"token", Token, true},
		{"node_start", NodeStart, true},
		{"node_complete", NodeComplete, true},
		{"event", Generic, true},
		{"nonsense", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseKind(tt.name)
		if ok != tt.ok {
			t.Errorf("ParseKind(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewStampsTimestamp(t *testing.T) {
	env := New(Progress, "exec-1", map[string]int{"percent": 50})
	if env.Meta.Timestamp.IsZero() {
		t.Error("New should stamp a timestamp")
	}
	if env.Meta.ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q, want exec-1", env.Meta.ExecutionID)
	}
}

func TestWithNodeCopies(t *testing.T) {
	env := New(Token, "exec-1", nil)
	stamped := env.WithNode("node-a")

	if stamped.Meta.NodeID != "node-a" {
		t.Errorf("NodeID = %q, want node-a", stamped.Meta.NodeID)
	}
	if env.Meta.NodeID != "" {
		t.Error("WithNode mutated the original envelope")
	}
}

func TestSequencerMonotonicPerExecution(t *testing.T) {
	seq := NewSequencer()

	for i := uint64(1); i <= 5; i++ {
		if got := seq.Next("exec-a"); got != i {
			t.Fatalf("Next(exec-a) = %d, want %d", got, i)
		}
	}

	// A different execution has its own counter.
	if got := seq.Next("exec-b"); got != 1 {
		t.Errorf("Next(exec-b) = %d, want 1", got)
	}
}

func TestSequencerForget(t *testing.T) {
	seq := NewSequencer()
	seq.Next("exec-a")
	seq.Next("exec-a")
	seq.Forget("exec-a")

	if got := seq.Next("exec-a"); got != 1 {
		t.Errorf("Next after Forget = %d, want 1", got)
	}
}

func TestSequencerStamp(t *testing.T) {
	seq := NewSequencer()
	env := New(Token, "exec-a", nil)
	seq.Stamp(env)
	if env.Meta.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", env.Meta.Sequence)
	}
}
