package dispatch

import (
	"sync"
	"time"
)

// invalidTracker counts invalid responses (401, 403, 429) in a fixed window
// that starts with the first invalid response.
type invalidTracker struct {
	threshold int
	window    time.Duration
	now       func() time.Time

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

func newInvalidTracker(threshold int, window time.Duration) *invalidTracker {
	return &invalidTracker{threshold: threshold, window: window, now: time.Now}
}

// record counts one invalid response. When the threshold is reached it
// returns the time left in the window and starts counting afresh.
func (t *invalidTracker) record() (time.Duration, bool) {
	if t.threshold <= 0 {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.windowStart.IsZero() || now.Sub(t.windowStart) >= t.window {
		t.windowStart = now
		t.count = 0
	}
	t.count++
	if t.count < t.threshold {
		return 0, false
	}

	remaining := t.window - now.Sub(t.windowStart)
	t.count = 0
	t.windowStart = time.Time{}
	return remaining, true
}

func isInvalidStatus(status int) bool {
	return status == 401 || status == 403 || status == 429
}
