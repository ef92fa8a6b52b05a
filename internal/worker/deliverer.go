package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"courier/internal/dispatch"
	"courier/internal/middleware"
	"courier/internal/payload"
	"courier/internal/queue"
)

// Deliverer is the limiter's dispatch handler. Every attempt is terminal:
// the job is completed whatever the outcome, then recorded.
type Deliverer struct {
	dispatcher Dispatcher
	queue      Queue
	recorder   OutcomeRecorder
	apiBase    string
}

func NewDeliverer(d Dispatcher, q Queue, r OutcomeRecorder, apiBase string) *Deliverer {
	return &Deliverer{dispatcher: d, queue: q, recorder: r, apiBase: apiBase}
}

func (d *Deliverer) Deliver(ctx context.Context, j payload.Job) {
	ctx = middleware.WithJobKey(ctx, j.Key.String())

	start := time.Now()
	out := d.dispatcher.Send(ctx, j)
	elapsed := time.Since(start)

	if out.OK() {
		slog.InfoContext(ctx, "delivered", "status", out.Status, "duration_ms", elapsed.Milliseconds())
	} else {
		slog.WarnContext(ctx, "delivery failed", "outcome", out.Kind, "detail", out.Describe())
	}

	if err := d.queue.Complete(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to complete job", "error", err)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordOutcome(ctx, j, out, elapsed); err != nil {
			slog.ErrorContext(ctx, "failed to record outcome", "error", err)
		}
	}

	if out.OK() {
		d.followUp(ctx, j, out)
	}
}

func (d *Deliverer) followUp(ctx context.Context, j payload.Job, out dispatch.Outcome) {
	jobs, err := payload.FollowUps(j, out.Body, d.apiBase)
	if err != nil {
		slog.WarnContext(ctx, "skipping post actions", "error", err)
		return
	}
	for _, f := range jobs {
		err := d.queue.Enqueue(ctx, f)
		switch {
		case errors.Is(err, queue.ErrDuplicateJob):
			slog.InfoContext(ctx, "post action already queued", "follow_up", f.Key)
		case err != nil:
			slog.ErrorContext(ctx, "failed to enqueue post action", "follow_up", f.Key, "error", err)
		}
	}
}
