package delivery_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"courier/features/delivery"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Save(ctx context.Context, r *delivery.Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepo) ListFailed(ctx context.Context, limit int) ([]delivery.Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]delivery.Record), args.Error(1)
}

func (m *MockRepo) CountFailed(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) IncrementStat(ctx context.Context, key string, delta int64) error {
	args := m.Called(ctx, key, delta)
	return args.Error(0)
}

func (m *MockRepo) GetStat(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
