package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"courier/internal/middleware"
	"courier/internal/ratelimit"
)

type BacklogCounter interface {
	Length(ctx context.Context) (int64, error)
}

type DeliveryStats interface {
	ArticlesSent(ctx context.Context) (int64, error)
	CountFailed(ctx context.Context) (int, error)
}

type LimiterSnapshotter interface {
	Snapshot() ratelimit.Snapshot
}

type Handler struct {
	backlog    BacklogCounter
	deliveries DeliveryStats
	limiter    LimiterSnapshotter
}

func NewHandler(b BacklogCounter, d DeliveryStats, l LimiterSnapshotter) *Handler {
	return &Handler{backlog: b, deliveries: d, limiter: l}
}

type StatsResponse struct {
	Backlog          int64              `json:"backlog"`
	ArticlesSent     int64              `json:"articles_sent"`
	FailedDeliveries int                `json:"failed_deliveries"`
	Limiter          ratelimit.Snapshot `json:"limiter"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	backlog, err := h.backlog.Length(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read backlog length", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read backlog length", http.StatusInternalServerError)
		return
	}

	sent, err := h.deliveries.ArticlesSent(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read articles sent", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read articles sent", http.StatusInternalServerError)
		return
	}

	failed, err := h.deliveries.CountFailed(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count failed deliveries", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count failed deliveries", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Backlog:          backlog,
		ArticlesSent:     sent,
		FailedDeliveries: failed,
		Limiter:          h.limiter.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
