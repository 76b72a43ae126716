package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies envelopes flowing through the bridge.
type Kind int

const (
	Token Kind = iota
	Progress
	Milestone
	NodeStart
	NodeComplete
	Error
	Generic
)

var kindNames = map[Kind]string{
	Token:        "token",
	Progress:     "progress",
	Milestone:    "milestone",
	NodeStart:    "node_start",
	NodeComplete: "node_complete",
	Error:        "error",
	Generic:      "event",
}

var kindFromName = map[string]Kind{
	"token":         Token,
	"progress":      Progress,
	"milestone":     Milestone,
	"node_start":    NodeStart,
	"node_complete": NodeComplete,
	"error":         Error,
	"event":         Generic,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a wire name back to a Kind. The second return is false
// for names outside the closed set.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindFromName[s]
	return k, ok
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := kindFromName[s]
	if !ok {
		return fmt.Errorf("unknown event kind %q", s)
	}
	*k = v
	return nil
}

// Metadata is routing and ordering context attached to every envelope.
// ExecutionID is the primary routing key.
type Metadata struct {
	Timestamp   time.Time      `json:"timestamp"`
	Sequence    uint64         `json:"sequenceNumber"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Envelope is the typed event record carried through the whole pipeline.
// Treated as immutable once constructed; producers must not mutate Data
// or Meta after handing an envelope to the bridge.
type Envelope struct {
	Kind Kind     `json:"type"`
	Data any      `json:"data"`
	Meta Metadata `json:"metadata"`
}

// New builds an envelope for the given execution, stamping the current
// time. Sequence is left at zero; producers that care about ordering
// assign it through a Sequencer.
func New(kind Kind, executionID string, data any) *Envelope {
	return &Envelope{
		Kind: kind,
		Data: data,
		Meta: Metadata{
			Timestamp:   time.Now(),
			ExecutionID: executionID,
		},
	}
}

// WithNode returns a copy of the envelope with NodeID set.
func (e *Envelope) WithNode(nodeID string) *Envelope {
	c := *e
	c.Meta.NodeID = nodeID
	return &c
}
