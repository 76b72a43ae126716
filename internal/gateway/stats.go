package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds the gateway's monotonic counters plus a smoothed
// per-message processing time. Approximate monitoring numbers, not
// audit-grade accounting.
type Stats struct {
	ConnectionsOpened   atomic.Uint64
	ConnectionsRejected atomic.Uint64
	MessagesSent        atomic.Uint64
	MessagesReceived    atomic.Uint64
	MessagesFailed      atomic.Uint64

	mu      sync.Mutex
	errors  map[string]uint64
	avgMs   float64
	avgSeen bool
}

func NewStats() *Stats {
	return &Stats{errors: make(map[string]uint64)}
}

// CountError bumps the counter for one wire error category.
func (s *Stats) CountError(category string) {
	s.mu.Lock()
	s.errors[category]++
	s.mu.Unlock()
}

// ObserveProcessing folds one handler duration into the moving average:
// avg = avg*0.9 + sample*0.1. The first sample seeds the average.
func (s *Stats) ObserveProcessing(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	s.mu.Lock()
	if !s.avgSeen {
		s.avgMs = ms
		s.avgSeen = true
	} else {
		s.avgMs = s.avgMs*0.9 + ms*0.1
	}
	s.mu.Unlock()
}

// Snapshot is a copy-out view for the status surface.
type StatsSnapshot struct {
	ConnectionsOpened   uint64            `json:"connectionsOpened"`
	ConnectionsRejected uint64            `json:"connectionsRejected"`
	MessagesSent        uint64            `json:"messagesSent"`
	MessagesReceived    uint64            `json:"messagesReceived"`
	MessagesFailed      uint64            `json:"messagesFailed"`
	ErrorsByCategory    map[string]uint64 `json:"errorsByCategory"`
	AvgProcessingMs     float64           `json:"avgProcessingMs"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		ConnectionsOpened:   s.ConnectionsOpened.Load(),
		ConnectionsRejected: s.ConnectionsRejected.Load(),
		MessagesSent:        s.MessagesSent.Load(),
		MessagesReceived:    s.MessagesReceived.Load(),
		MessagesFailed:      s.MessagesFailed.Load(),
		ErrorsByCategory:    make(map[string]uint64),
	}
	s.mu.Lock()
	for k, v := range s.errors {
		snap.ErrorsByCategory[k] = v
	}
	snap.AvgProcessingMs = s.avgMs
	s.mu.Unlock()
	return snap
}
