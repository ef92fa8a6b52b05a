package worker_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"courier/internal/dispatch"
	"courier/internal/payload"
)

// Mocks

type MockValidator struct{ mock.Mock }

func (m *MockValidator) Validate(raw []byte) (payload.Job, error) {
	args := m.Called(raw)
	return args.Get(0).(payload.Job), args.Error(1)
}

type MockQueue struct{ mock.Mock }

func (m *MockQueue) Enqueue(ctx context.Context, j payload.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockQueue) Dequeue(ctx context.Context, n int) ([]payload.Job, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]payload.Job), args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, j payload.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

type MockAdmitter struct{ mock.Mock }

func (m *MockAdmitter) Admit(j payload.Job) { m.Called(j) }

func (m *MockAdmitter) Backlog() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdmitter) Paused() bool {
	args := m.Called()
	return args.Bool(0)
}

type MockDispatcher struct{ mock.Mock }

func (m *MockDispatcher) Send(ctx context.Context, j payload.Job) dispatch.Outcome {
	args := m.Called(ctx, j)
	return args.Get(0).(dispatch.Outcome)
}

type MockRecorder struct{ mock.Mock }

func (m *MockRecorder) RecordOutcome(ctx context.Context, j payload.Job, o dispatch.Outcome, elapsed time.Duration) error {
	args := m.Called(ctx, j, o, elapsed)
	return args.Error(0)
}

func testJob(channel, article string) payload.Job {
	return payload.Job{
		Key:     payload.NewKey(channel, article),
		Kind:    payload.KindMessage,
		Article: payload.Article{ID: article},
		Feed:    payload.Feed{ID: "feed1", URL: "https://example.com/rss", Channel: channel},
		API:     payload.Request{URL: "https://discord.test/api/channels/" + channel + "/messages", Method: "POST"},
	}
}
