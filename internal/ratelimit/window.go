package ratelimit

import "time"

// window remembers the most recent start times so that no span of length
// interval holds more than len(starts) starts.
type window struct {
	interval time.Duration
	starts   []time.Time
	next     int
	filled   int
}

func newWindow(interval time.Duration, size int) window {
	return window{interval: interval, starts: make([]time.Time, size)}
}

// wait returns how long a start at now must be delayed.
func (w *window) wait(now time.Time) time.Duration {
	if w.interval <= 0 || w.filled < len(w.starts) {
		return 0
	}
	oldest := w.starts[w.next]
	if d := oldest.Add(w.interval).Sub(now); d > 0 {
		return d
	}
	return 0
}

func (w *window) record(now time.Time) {
	w.starts[w.next] = now
	w.next = (w.next + 1) % len(w.starts)
	if w.filled < len(w.starts) {
		w.filled++
	}
}
