// Package recovery restores outstanding jobs after a restart. It runs once,
// before ingestion starts.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/payload"
)

type Store interface {
	PurgeInvalid(ctx context.Context) (int, error)
	Reclaim(ctx context.Context) (int, error)
	ListPending(ctx context.Context) ([]payload.Job, error)
}

type Admitter interface {
	Admit(j payload.Job)
}

type Result struct {
	Purged     int
	Drained    int
	Readmitted int
}

type Procedure struct {
	store    Store
	admitter Admitter
	logger   *slog.Logger
}

func New(store Store, admitter Admitter, logger *slog.Logger) *Procedure {
	if logger == nil {
		logger = slog.Default()
	}
	return &Procedure{store: store, admitter: admitter, logger: logger}
}

// Run purges crash artifacts and re-admits every job that was never
// completed. Jobs go straight to the admitter; nothing is written back to the
// store. The processing ledger is drained first so the scheduler cannot claim
// a re-admitted job a second time.
func (p *Procedure) Run(ctx context.Context) (Result, error) {
	var res Result

	purged, err := p.store.PurgeInvalid(ctx)
	if err != nil {
		return res, fmt.Errorf("purge invalid entries: %w", err)
	}
	res.Purged = purged
	p.logger.InfoContext(ctx, "purged invalid ledger entries", "count", purged)

	drained, err := p.store.Reclaim(ctx)
	if err != nil {
		return res, fmt.Errorf("reclaim processing ledger: %w", err)
	}
	res.Drained = drained

	jobs, err := p.store.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending jobs: %w", err)
	}

	for _, j := range jobs {
		p.admitter.Admit(j)
	}
	res.Readmitted = len(jobs)

	p.logger.InfoContext(ctx, "recovery complete",
		"purged", res.Purged,
		"drained", res.Drained,
		"readmitted", res.Readmitted,
	)
	return res, nil
}
