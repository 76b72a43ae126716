package producer

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/flow-bridge/backend/internal/event"
)

// Engine is the in-process event hub the workflow engine publishes into.
// Each subscriber gets its own buffered channel; a full subscriber drops
// that one event for that one subscriber and the publish continues.
type Engine struct {
	mu   sync.RWMutex
	subs map[string]*engineSub
	seq  *event.Sequencer
}

type engineSub struct {
	filter Filter
	stream *Stream
	once   sync.Once
}

func NewEngine() *Engine {
	return &Engine{
		subs: make(map[string]*engineSub),
		seq:  event.NewSequencer(),
	}
}

// Subscribe registers a filtered stream. The cancel func detaches the
// subscriber and closes its channel.
func (e *Engine) Subscribe(f Filter) (*Stream, func()) {
	sub := &engineSub{
		filter: f,
		stream: &Stream{
			id:     uuid.NewString(),
			events: make(chan *event.Envelope, streamBuffer),
		},
	}

	e.mu.Lock()
	e.subs[sub.stream.id] = sub
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		delete(e.subs, sub.stream.id)
		e.mu.Unlock()
		sub.once.Do(func() { close(sub.stream.events) })
	}
	return sub.stream, cancel
}

// Publish stamps the envelope with the execution's next sequence number
// and fans it out to every matching subscriber. Non-blocking per
// subscriber: a full channel drops the event for that subscriber only.
func (e *Engine) Publish(env *event.Envelope) {
	e.seq.Stamp(env)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sub := range e.subs {
		if !sub.filter.Match(env) {
			continue
		}
		select {
		case sub.stream.events <- env:
		default:
			log.Printf("engine: subscriber %s full, dropping %s event for execution %s",
				sub.stream.id, env.Kind, env.Meta.ExecutionID)
		}
	}
}

// Emit is a convenience wrapper building and publishing one envelope.
func (e *Engine) Emit(kind event.Kind, executionID, nodeID string, data any) {
	env := event.New(kind, executionID, data)
	if nodeID != "" {
		env = env.WithNode(nodeID)
	}
	e.Publish(env)
}

// ExecutionFinished releases the sequence counter for a completed
// execution.
func (e *Engine) ExecutionFinished(executionID string) {
	e.seq.Forget(executionID)
}

// SubscriberCount reports the number of attached subscribers.
func (e *Engine) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
