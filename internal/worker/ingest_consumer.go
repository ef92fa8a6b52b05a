package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"courier/internal/middleware"
	"courier/internal/payload"
	"courier/internal/queue"
)

// IngestConsumer validates raw submissions from NSQ and persists them.
type IngestConsumer struct {
	validator PayloadValidator
	queue     Enqueuer
}

func NewIngestConsumer(v PayloadValidator, q Enqueuer) *IngestConsumer {
	return &IngestConsumer{validator: v, queue: q}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	ctx := middleware.WithCorrelationID(context.Background(), uuid.New().String())
	return h.Ingest(ctx, m.Body)
}

// Ingest enqueues one raw submission. Only store failures are returned, so
// NSQ redelivers exactly the messages that could not be persisted.
func (h *IngestConsumer) Ingest(ctx context.Context, raw []byte) error {
	j, err := h.validator.Validate(raw)
	if err != nil {
		var verr *payload.ValidationError
		if errors.As(err, &verr) {
			slog.WarnContext(ctx, "dropping invalid payload", "kind", verr.Kind, "error", verr.Err)
		} else {
			slog.WarnContext(ctx, "dropping invalid payload", "error", err)
		}
		return nil // Don't retry invalid messages
	}

	ctx = middleware.WithJobKey(ctx, j.Key.String())

	if err := h.queue.Enqueue(ctx, j); err != nil {
		if errors.Is(err, queue.ErrDuplicateJob) {
			slog.InfoContext(ctx, "duplicate submission dropped")
			return nil
		}
		slog.ErrorContext(ctx, "failed to enqueue job", "error", err)
		return fmt.Errorf("enqueue %s: %w", j.Key, err)
	}

	slog.DebugContext(ctx, "job enqueued", "channel", j.Feed.Channel, "article_id", j.Article.ID)
	return nil
}
