package ratelimit

import (
	"time"

	"courier/internal/dispatch"
)

// metrics is guarded by Limiter.mu.
type metrics struct {
	admitted   uint64
	dispatched uint64
	active     int
	maxActive  int
	pauses     uint64
	lastBlock  dispatch.BlockKind
}

// Snapshot is a point-in-time copy of the limiter's counters.
type Snapshot struct {
	State       string             `json:"state"`
	Backlog     int                `json:"backlog"`
	Admitted    uint64             `json:"admitted"`
	Dispatched  uint64             `json:"dispatched"`
	Active      int                `json:"active"`
	MaxActive   int                `json:"max_active"`
	Pauses      uint64             `json:"pauses"`
	LastBlock   dispatch.BlockKind `json:"last_block,omitempty"`
	PausedUntil *time.Time         `json:"paused_until,omitempty"`
}

func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	s := Snapshot{
		State:      l.state.String(),
		Backlog:    len(l.pending),
		Admitted:   l.metrics.admitted,
		Dispatched: l.metrics.dispatched,
		Active:     l.metrics.active,
		MaxActive:  l.metrics.maxActive,
		Pauses:     l.metrics.pauses,
		LastBlock:  l.metrics.lastBlock,
	}
	l.mu.Unlock()

	if until, ok := l.timer.Deadline(); ok {
		s.PausedUntil = &until
	}
	return s
}
