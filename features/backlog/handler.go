package backlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"courier/internal/middleware"
	"courier/internal/payload"
)

type PendingLister interface {
	ListPending(ctx context.Context) ([]payload.Job, error)
}

type Handler struct {
	store PendingLister
}

func NewHandler(s PendingLister) *Handler {
	return &Handler{store: s}
}

type Item struct {
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	ArticleID string `json:"article_id"`
	FeedURL   string `json:"feed_url"`
	Channel   string `json:"channel"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobs, err := h.store.ListPending(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list backlog", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list backlog", http.StatusInternalServerError)
		return
	}

	items := make([]Item, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, Item{
			Key:       j.Key.String(),
			Kind:      string(j.Kind),
			ArticleID: j.Article.ID,
			FeedURL:   j.Feed.URL,
			Channel:   j.Feed.Channel,
		})
	}

	h.writeJSON(ctx, w, map[string]interface{}{
		"data": items,
		"meta": map[string]int{"count": len(items)},
	})
}

func (h *Handler) Distribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	top := defaultTop
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, "INVALID_ARGUMENT", "top must be a positive integer", http.StatusBadRequest)
			return
		}
		top = n
	}

	jobs, err := h.store.ListPending(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list backlog", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list backlog", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, map[string]interface{}{"data": Distribute(jobs, top)})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
