package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/dispatch"
	"courier/internal/payload"
)

type Service struct {
	repo      Repository
	retention time.Duration
	now       func() time.Time
}

func NewService(repo Repository, retention time.Duration) *Service {
	return &Service{repo: repo, retention: retention, now: time.Now}
}

// RecordOutcome stores the result of one delivery attempt. Follow-up jobs
// such as announcements are not recorded.
func (s *Service) RecordOutcome(ctx context.Context, j payload.Job, o dispatch.Outcome, elapsed time.Duration) error {
	if j.Kind == payload.KindAnnounce {
		return nil
	}

	rec := &Record{
		DeliveryKey: j.Key.String(),
		ArticleID:   j.Article.ID,
		FeedID:      j.Feed.ID,
		FeedURL:     j.Feed.URL,
		Channel:     j.Feed.Channel,
		Delivered:   o.OK(),
		StatusCode:  o.Status,
		Comment:     o.Describe(),
		ExecutionMs: elapsed.Milliseconds(),
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("save delivery record: %w", err)
	}

	if o.OK() {
		if err := s.repo.IncrementStat(ctx, StatArticlesSent, 1); err != nil {
			return fmt.Errorf("increment %s: %w", StatArticlesSent, err)
		}
	}
	return nil
}

func (s *Service) ListFailed(ctx context.Context, limit int) ([]Record, error) {
	return s.repo.ListFailed(ctx, limit)
}

func (s *Service) CountFailed(ctx context.Context) (int, error) {
	return s.repo.CountFailed(ctx)
}

func (s *Service) ArticlesSent(ctx context.Context) (int64, error) {
	return s.repo.GetStat(ctx, StatArticlesSent)
}

// PurgeExpired deletes records older than the retention period.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.PurgeOlderThan(ctx, s.now().Add(-s.retention))
}

// RunJanitor purges expired records every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.ErrorContext(ctx, "failed to purge delivery records", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "purged expired delivery records", "count", n)
			}
		}
	}
}
