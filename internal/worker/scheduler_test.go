package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"courier/internal/payload"
	"courier/internal/worker"
)

func TestScheduler_TickAdmitsInOrder(t *testing.T) {
	jobs := []payload.Job{testJob("c", "1"), testJob("c", "2")}

	q := new(MockQueue)
	q.On("Dequeue", mock.Anything, 8).Return(jobs, nil)

	a := new(MockAdmitter)
	a.On("Paused").Return(false)
	a.On("Backlog").Return(2)
	var admitted []payload.Key
	a.On("Admit", mock.Anything).Run(func(args mock.Arguments) {
		admitted = append(admitted, args.Get(0).(payload.Job).Key)
	})

	n, err := worker.NewScheduler(q, a, 10, time.Second).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []payload.Key{"c_1", "c_2"}, admitted)
	q.AssertExpectations(t)
}

func TestScheduler_TickSkipsWhilePaused(t *testing.T) {
	q := new(MockQueue)
	a := new(MockAdmitter)
	a.On("Paused").Return(true)

	n, err := worker.NewScheduler(q, a, 10, time.Second).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	q.AssertNotCalled(t, "Dequeue", mock.Anything, mock.Anything)
}

func TestScheduler_TickSkipsWhenLimiterFull(t *testing.T) {
	q := new(MockQueue)
	a := new(MockAdmitter)
	a.On("Paused").Return(false)
	a.On("Backlog").Return(10)

	n, err := worker.NewScheduler(q, a, 10, time.Second).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	q.AssertNotCalled(t, "Dequeue", mock.Anything, mock.Anything)
}

func TestScheduler_TickError(t *testing.T) {
	q := new(MockQueue)
	q.On("Dequeue", mock.Anything, 5).Return(nil, errors.New("redis down"))
	a := new(MockAdmitter)
	a.On("Paused").Return(false)
	a.On("Backlog").Return(0)

	_, err := worker.NewScheduler(q, a, 5, time.Second).Tick(context.Background())
	assert.Error(t, err)
	a.AssertNotCalled(t, "Admit", mock.Anything)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	q := new(MockQueue)
	q.On("Dequeue", mock.Anything, 5).Return([]payload.Job{}, nil)
	a := new(MockAdmitter)
	a.On("Paused").Return(false)
	a.On("Backlog").Return(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- worker.NewScheduler(q, a, 5, 5*time.Millisecond).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	q.AssertCalled(t, "Dequeue", mock.Anything, 5)
}
