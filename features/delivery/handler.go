package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"courier/internal/middleware"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, "INVALID_ARGUMENT", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := h.service.ListFailed(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failed deliveries", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list failed deliveries", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": records,
		"meta": map[string]int{"count": len(records)},
	}
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
