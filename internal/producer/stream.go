package producer

import (
	"github.com/flow-bridge/backend/internal/event"
)

// streamBuffer is the per-subscriber channel capacity. Subscribers that
// fall further behind than this start losing events.
const streamBuffer = 100

// Filter selects which published envelopes a subscriber receives. The
// zero value matches everything.
type Filter struct {
	ExecutionID string
	Kinds       []event.Kind
}

// Match reports whether the envelope passes the filter.
func (f Filter) Match(env *event.Envelope) bool {
	if f.ExecutionID != "" && env.Meta.ExecutionID != f.ExecutionID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if env.Kind == k {
			return true
		}
	}
	return false
}

// Stream is one subscriber's view of a producer: a channel of envelopes
// that closes when the subscription is cancelled.
type Stream struct {
	id     string
	events chan *event.Envelope
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Events() <-chan *event.Envelope { return s.events }

// Producer is the upstream interface the bridge consumes: anything that
// can hand out filtered envelope streams. The returned cancel func
// closes the stream's channel and is safe to call more than once.
type Producer interface {
	Subscribe(f Filter) (*Stream, func())
}
