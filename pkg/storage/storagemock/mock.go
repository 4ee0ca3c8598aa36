package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/storage"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) StatisticsDuringPeriod(ctx context.Context, start, end time.Time, period types.Period, ids []string) (types.Statistics, error) {
	args := m.Called(ctx, start, end, period, ids)
	if s, ok := args.Get(0).(types.Statistics); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) UpsertBuckets(ctx context.Context, statisticID string, buckets []types.Bucket) error {
	args := m.Called(ctx, statisticID, buckets)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestBucketTime(ctx context.Context, statisticID string) (time.Time, error) {
	args := m.Called(ctx, statisticID)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
