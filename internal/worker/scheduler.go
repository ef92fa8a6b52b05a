package worker

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler moves claimed jobs from the durable queue into the limiter,
// keeping at most batch jobs waiting in the limiter at a time.
type Scheduler struct {
	queue    Queue
	limiter  Admitter
	batch    int
	interval time.Duration
}

const defaultTickInterval = 500 * time.Millisecond

func NewScheduler(q Queue, l Admitter, batch int, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Scheduler{queue: q, limiter: l, batch: batch, interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "dequeue failed", "error", err)
			}
		}
	}
}

// Tick claims and admits one batch. It claims nothing while the limiter is
// paused so claimed jobs do not pile up in memory.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if s.limiter.Paused() {
		return 0, nil
	}
	room := s.batch - s.limiter.Backlog()
	if room <= 0 {
		return 0, nil
	}

	jobs, err := s.queue.Dequeue(ctx, room)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		s.limiter.Admit(j)
	}
	return len(jobs), nil
}
