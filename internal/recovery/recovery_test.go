package recovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"courier/internal/payload"
	"courier/internal/queue"
	"courier/internal/recovery"
)

type MockStore struct{ mock.Mock }

func (m *MockStore) PurgeInvalid(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Reclaim(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) ListPending(ctx context.Context) ([]payload.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]payload.Job), args.Error(1)
}

type collector struct{ jobs []payload.Job }

func (c *collector) Admit(j payload.Job) { c.jobs = append(c.jobs, j) }

func TestProcedure_Run(t *testing.T) {
	pending := []payload.Job{
		{Key: payload.NewKey("chan1", "art1")},
		{Key: payload.NewKey("chan1", "art2")},
	}

	s := new(MockStore)
	s.On("PurgeInvalid", mock.Anything).Return(3, nil).Once()
	s.On("Reclaim", mock.Anything).Return(1, nil).Once()
	s.On("ListPending", mock.Anything).Return(pending, nil).Once()

	c := &collector{}
	res, err := recovery.New(s, c, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, recovery.Result{Purged: 3, Drained: 1, Readmitted: 2}, res)
	assert.Equal(t, pending, c.jobs)
	s.AssertExpectations(t)
}

func TestProcedure_StoreErrors(t *testing.T) {
	storeErr := &queue.StoreError{Op: "purge_invalid", Err: errors.New("connection refused")}

	tests := []struct {
		name  string
		setup func(s *MockStore)
	}{
		{
			name: "purge fails",
			setup: func(s *MockStore) {
				s.On("PurgeInvalid", mock.Anything).Return(0, storeErr)
			},
		},
		{
			name: "reclaim fails",
			setup: func(s *MockStore) {
				s.On("PurgeInvalid", mock.Anything).Return(0, nil)
				s.On("Reclaim", mock.Anything).Return(0, storeErr)
			},
		},
		{
			name: "list fails",
			setup: func(s *MockStore) {
				s.On("PurgeInvalid", mock.Anything).Return(0, nil)
				s.On("Reclaim", mock.Anything).Return(0, nil)
				s.On("ListPending", mock.Anything).Return(nil, storeErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(MockStore)
			tt.setup(s)
			c := &collector{}

			_, err := recovery.New(s, c, nil).Run(context.Background())

			var serr *queue.StoreError
			assert.True(t, errors.As(err, &serr))
			assert.Empty(t, c.jobs, "nothing is admitted when recovery fails")
			s.AssertExpectations(t)
		})
	}
}
