// Package dispatch performs downstream calls for jobs and classifies the
// result. A dispatcher never retries; backoff requests from the downstream
// API are reported as block signals on an injected channel.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"courier/internal/payload"
)

const (
	maxBody    = 64 << 10
	maxSnippet = 256
)

type Config struct {
	// AuthHeader is sent verbatim as the Authorization header when set.
	AuthHeader              string
	Timeout                 time.Duration
	InvalidRequestThreshold int
	InvalidRequestWindow    time.Duration
}

type Option func(*HTTPDispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *HTTPDispatcher) { d.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *HTTPDispatcher) { d.logger = l }
}

type HTTPDispatcher struct {
	cfg     Config
	client  *http.Client
	signals chan<- BlockSignal
	invalid *invalidTracker
	logger  *slog.Logger
}

// NewHTTPDispatcher sends block signals on signals without blocking; a
// signal is dropped when the channel is full. signals may be nil.
func NewHTTPDispatcher(cfg Config, signals chan<- BlockSignal, opts ...Option) *HTTPDispatcher {
	d := &HTTPDispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		signals: signals,
		invalid: newInvalidTracker(cfg.InvalidRequestThreshold, cfg.InvalidRequestWindow),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *HTTPDispatcher) Send(ctx context.Context, j payload.Job) Outcome {
	var body io.Reader
	if j.API.HasBody() {
		body = bytes.NewReader(j.API.Body)
	}

	req, err := http.NewRequestWithContext(ctx, j.API.Method, j.API.URL, body)
	if err != nil {
		return Outcome{Kind: NetworkFailure, Message: err.Error()}
	}
	if d.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", d.cfg.AuthHeader)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{Kind: NetworkFailure, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		d.logger.WarnContext(ctx, "failed to read response body", "status", resp.StatusCode, "error", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{Kind: Success, Status: resp.StatusCode, Body: respBody}
	}

	d.observe(ctx, resp, respBody)
	return Outcome{Kind: HTTPFailure, Status: resp.StatusCode, Snippet: snippet(respBody)}
}

type rateLimitBody struct {
	Global     bool    `json:"global"`
	RetryAfter float64 `json:"retry_after"`
}

func (d *HTTPDispatcher) observe(ctx context.Context, resp *http.Response, body []byte) {
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl rateLimitBody
		_ = json.Unmarshal(body, &rl)
		retry := retryAfter(resp.Header, rl)

		switch {
		case rl.Global || strings.EqualFold(resp.Header.Get("X-RateLimit-Global"), "true"):
			d.emit(ctx, BlockSignal{Kind: BlockGlobalRateLimit, Duration: retry})
		case !hasRateLimitHeaders(resp.Header):
			d.emit(ctx, BlockSignal{Kind: BlockProviderEdgeRateLimit, Duration: retry})
		}
	}

	if isInvalidStatus(resp.StatusCode) && resp.Header.Get("X-RateLimit-Scope") != "shared" {
		if remaining, hit := d.invalid.record(); hit {
			d.emit(ctx, BlockSignal{Kind: BlockInvalidRequestThreshold, Duration: remaining})
		}
	}
}

func (d *HTTPDispatcher) emit(ctx context.Context, sig BlockSignal) {
	d.logger.WarnContext(ctx, "downstream requested backoff", "kind", sig.Kind, "duration_ms", sig.Duration.Milliseconds())
	if d.signals == nil {
		return
	}
	select {
	case d.signals <- sig:
	default:
		d.logger.WarnContext(ctx, "block signal dropped, channel full", "kind", sig.Kind)
	}
}

func retryAfter(h http.Header, rl rateLimitBody) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	return time.Second
}

func hasRateLimitHeaders(h http.Header) bool {
	for k := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(k), "X-Ratelimit-") {
			return true
		}
	}
	return false
}

// snippet truncates b to at most maxSnippet bytes of valid UTF-8, cutting
// on a rune boundary.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxSnippet {
		cut := maxSnippet
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.ToValidUTF8(s, "")
}
