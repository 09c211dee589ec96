package database

import (
	"context"
	"time"

	"github.com/weezyhq/recon/model"
)

// IDataSource is the persistence boundary of the reporting layer. The run
// store is keyed by (processor, date); unresolved discrepancies live on a
// single list, each item tagged with its run key, and are replaced
// atomically per key when that key's run is re-executed.
type IDataSource interface {
	RecordRun(ctx context.Context, run *model.ReconciliationRun) error
	GetRun(ctx context.Context, processor string, date time.Time) (*model.ReconciliationRun, error)
	UpdateRunStatus(ctx context.Context, run *model.ReconciliationRun) error
	ReplaceUnresolved(ctx context.Context, key model.RunKey, version int64, items []*model.DiscrepancyItem) error
	ListUnresolved(ctx context.Context, processor string, maxAgeDays int) ([]*model.DiscrepancyItem, error)
}
