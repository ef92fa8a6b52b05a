package dispatch

import (
	"fmt"
	"time"
)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	HTTPFailure
	NetworkFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case HTTPFailure:
		return "http_failure"
	case NetworkFailure:
		return "network_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one delivery attempt.
type Outcome struct {
	Kind   OutcomeKind
	Status int
	// Body is the response body of a successful call, bounded by maxBody.
	Body []byte
	// Snippet is the truncated response body of a failed call.
	Snippet string
	// Message is the transport error text of a network failure.
	Message string
}

func (o Outcome) OK() bool { return o.Kind == Success }

// Describe renders the failure for delivery records. It is empty on success.
func (o Outcome) Describe() string {
	switch o.Kind {
	case HTTPFailure:
		return fmt.Sprintf("Bad status code (%d) | %s", o.Status, o.Snippet)
	case NetworkFailure:
		return fmt.Sprintf("Fetch error (%s)", o.Message)
	default:
		return ""
	}
}

type BlockKind string

const (
	BlockGlobalRateLimit         BlockKind = "global-rate-limit"
	BlockProviderEdgeRateLimit   BlockKind = "provider-edge-rate-limit"
	BlockInvalidRequestThreshold BlockKind = "invalid-request-threshold"
)

// BlockSignal asks the caller to withhold further requests for Duration.
type BlockSignal struct {
	Kind     BlockKind
	Duration time.Duration
}
