package gateway

import (
	"sync"
	"time"
)

// slidingWindow is a per-connection message rate limiter: at most max
// events inside any trailing window. A zero max disables limiting.
type slidingWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{max: max, window: window}
}

// Allow records one event and reports whether it fits in the window.
func (w *slidingWindow) Allow(now time.Time) bool {
	if w == nil || w.max <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	keep := w.stamps[:0]
	for _, t := range w.stamps {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.stamps = keep

	if len(w.stamps) >= w.max {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}
