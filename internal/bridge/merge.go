package bridge

import (
	"sync"

	"github.com/flow-bridge/backend/internal/event"
)

// pumpBuffer bounds the merger's fan-in channel. Producers block here
// when the session's consumer is slow; the bound keeps one runaway
// producer from holding unbounded memory.
const pumpBuffer = 128

// Merger composes any number of upstream producer streams into a
// session's single outbound channel. Every merged envelope goes through
// Bridge.Send, so the session's event filter applies to merged traffic
// exactly as it does to direct sends.
//
// The composition is rebuildable: sources can be attached and detached
// at any time after registration, so a subscription change swaps
// producers instead of forcing a re-register.
type Merger struct {
	bridge    *Bridge
	sessionID string

	mu      sync.Mutex
	stopped bool
	sources map[string]func() // source id -> cancel

	pump chan *event.Envelope
	stop chan struct{}
	wg   sync.WaitGroup
}

func newMerger(b *Bridge, sessionID string) *Merger {
	m := &Merger{
		bridge:    b,
		sessionID: sessionID,
		sources:   make(map[string]func()),
		pump:      make(chan *event.Envelope, pumpBuffer),
		stop:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Merger) run() {
	defer m.wg.Done()
	for {
		select {
		case env := <-m.pump:
			// The session may already be gone mid-shutdown; Send
			// reports that as ErrSessionNotFound and the envelope is
			// simply lost, which is the documented at-most-once
			// behavior for a closing session.
			_ = m.bridge.Send(m.sessionID, env)
		case <-m.stop:
			return
		}
	}
}

// AddSource attaches an upstream stream. cancel is invoked when the
// source is removed or the merger stops; it must cause events to close.
// Adding a source id that is already attached replaces it, cancelling
// the old one.
func (m *Merger) AddSource(id string, events <-chan *event.Envelope, cancel func()) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return
	}
	if old, ok := m.sources[id]; ok {
		old()
	}
	m.sources[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for env := range events {
			select {
			case m.pump <- env:
			case <-m.stop:
				return
			}
		}
	}()
}

// RemoveSource detaches one stream. Unknown ids are a no-op.
func (m *Merger) RemoveSource(id string) {
	m.mu.Lock()
	cancel, ok := m.sources[id]
	if ok {
		delete(m.sources, id)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// SourceCount reports the number of attached streams.
func (m *Merger) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Stop cancels every source and waits for the pump goroutines to drain.
// Safe to call more than once.
func (m *Merger) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancels := make([]func(), 0, len(m.sources))
	for _, cancel := range m.sources {
		cancels = append(cancels, cancel)
	}
	m.sources = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	close(m.stop)
	m.wg.Wait()
}
