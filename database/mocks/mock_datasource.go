package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/weezyhq/recon/model"
)

// MockDataSource is a hand-rolled testify mock of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) RecordRun(ctx context.Context, run *model.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) GetRun(ctx context.Context, processor string, date time.Time) (*model.ReconciliationRun, error) {
	args := m.Called(ctx, processor, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReconciliationRun), args.Error(1)
}

func (m *MockDataSource) UpdateRunStatus(ctx context.Context, run *model.ReconciliationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockDataSource) ReplaceUnresolved(ctx context.Context, key model.RunKey, version int64, items []*model.DiscrepancyItem) error {
	args := m.Called(ctx, key, version, items)
	return args.Error(0)
}

func (m *MockDataSource) ListUnresolved(ctx context.Context, processor string, maxAgeDays int) ([]*model.DiscrepancyItem, error) {
	args := m.Called(ctx, processor, maxAgeDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DiscrepancyItem), args.Error(1)
}
