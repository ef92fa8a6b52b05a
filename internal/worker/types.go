package worker

import (
	"context"
	"time"

	"courier/internal/dispatch"
	"courier/internal/payload"
)

type PayloadValidator interface {
	Validate(raw []byte) (payload.Job, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, j payload.Job) error
}

type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context, n int) ([]payload.Job, error)
	Complete(ctx context.Context, j payload.Job) error
}

type Admitter interface {
	Admit(j payload.Job)
	Backlog() int
	Paused() bool
}

type Dispatcher interface {
	Send(ctx context.Context, j payload.Job) dispatch.Outcome
}

// OutcomeRecorder is the delivery record sink.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, j payload.Job, o dispatch.Outcome, elapsed time.Duration) error
}
