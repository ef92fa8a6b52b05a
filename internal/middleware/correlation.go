package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	JobKeyKey
)

const CorrelationHeader = "X-Correlation-ID"

// CorrelationID tags every inspection request with an id that is echoed back
// in the response header and attached to every log line written for it.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set(CorrelationHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		slog.DebugContext(ctx, "request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// WithJobKey scopes a context to a single delivery job.
func WithJobKey(ctx context.Context, jobKey string) context.Context {
	return context.WithValue(ctx, JobKeyKey, jobKey)
}

func GetJobKey(ctx context.Context) (string, bool) {
	k, ok := ctx.Value(JobKeyKey).(string)
	return k, ok && k != ""
}
