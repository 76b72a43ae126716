package gateway

import (
	"testing"
	"time"
)

func TestSlidingWindowAllows(t *testing.T) {
	w := newSlidingWindow(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !w.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if w.Allow(now) {
		t.Error("fourth event inside the window should be refused")
	}
}

func TestSlidingWindowExpires(t *testing.T) {
	w := newSlidingWindow(2, time.Minute)
	now := time.Now()

	w.Allow(now)
	w.Allow(now)
	if w.Allow(now.Add(30 * time.Second)) {
		t.Fatal("window still full at +30s")
	}

	// Both stamps have aged out; capacity is back.
	if !w.Allow(now.Add(2 * time.Minute)) {
		t.Error("event after the window expired should be allowed")
	}
}

func TestSlidingWindowDisabled(t *testing.T) {
	for _, w := range []*slidingWindow{nil, newSlidingWindow(0, time.Minute)} {
		for i := 0; i < 1000; i++ {
			if !w.Allow(time.Now()) {
				t.Fatal("disabled limiter must always allow")
			}
		}
	}
}
