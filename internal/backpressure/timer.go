// Package backpressure holds the single resettable deadline that pauses
// dispatch after the downstream API asks us to back off.
package backpressure

import (
	"sync"
	"time"
)

// Timer runs fn once after the most recently armed duration. Arming again
// before the deadline replaces it; the previous callback never runs.
type Timer struct {
	fn func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	armed bool
	until time.Time
}

func New(fn func()) *Timer {
	return &Timer{fn: fn}
}

func (t *Timer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.until = time.Now().Add(d)
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
}

// Stop cancels the outstanding deadline. It reports whether one was armed.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasArmed := t.armed
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	t.clear()
	return wasArmed
}

func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Deadline returns when the armed callback is due.
func (t *Timer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.until, t.armed
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	// A callback whose timer was replaced can still be scheduled if it
	// expired while Arm held the lock.
	if gen != t.gen || !t.armed {
		t.mu.Unlock()
		return
	}
	t.clear()
	t.mu.Unlock()

	t.fn()
}

func (t *Timer) clear() {
	t.armed = false
	t.timer = nil
	t.until = time.Time{}
}
