/*
Copyright 2024 Weezy Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package recon implements back-office reconciliation between the internal
// ledger and external payment processor records. A run covers one
// (processor, value date) pair: both sides are fetched and normalized,
// joined on the configured match keys, partitioned into matched and
// discrepant sets, and the unresolved items for that key are replaced in
// the store. Re-running a key with the same inputs is idempotent.
package recon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/database"
	"github.com/weezyhq/recon/internal/lock"
	"github.com/weezyhq/recon/internal/notification"
	"github.com/weezyhq/recon/model"
	"github.com/weezyhq/recon/sources"
)

// Run statuses. A run is terminal in completed, completed_empty, skipped or
// failed; started is only observable while a run is in flight.
const (
	StatusStarted        = "started"
	StatusCompleted      = "completed"
	StatusCompletedEmpty = "completed_empty"
	StatusSkipped        = "skipped"
	StatusFailed         = "failed"
)

const (
	// runLockDuration bounds how long a crashed run can hold its key.
	runLockDuration = 10 * time.Minute
	// runLockWait bounds how long a run waits for a concurrent run on the
	// same key to finish before giving up.
	runLockWait = 30 * time.Second
	// replaceRetries bounds retries of the unresolved replacement when the
	// optimistic version check loses a race.
	replaceRetries = 3
)

// Recon wires the reconciliation workflow together: the ledger and processor
// sources, the run store, and the per-key run lock.
type Recon struct {
	datasource database.IDataSource
	ledger     *sources.LedgerSource
	redis      redis.UniversalClient
}

// NewRecon creates a new reconciliation service.
func NewRecon(db database.IDataSource, ledger *sources.LedgerSource, redisClient redis.UniversalClient) *Recon {
	return &Recon{
		datasource: db,
		ledger:     ledger,
		redis:      redisClient,
	}
}

// ReconcileProcessor executes one reconciliation run for a processor and a
// value date. Handled outcomes (unknown processor, fetch failures, empty
// datasets) are persisted on the run and returned in the report; the error
// return is reserved for infrastructure failures where no meaningful run
// state could be recorded.
func (r *Recon) ReconcileProcessor(ctx context.Context, processorName string, date time.Time) (*model.RunReport, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	date = normalizeDate(date)
	// Runs, discrepancies and lock keys all carry the canonical upper-case
	// processor name regardless of how the caller spelled it.
	processorName = canonicalProcessor(processorName)

	run := &model.ReconciliationRun{
		RunID:     model.GenerateUUIDWithSuffix("run"),
		Processor: processorName,
		Date:      date,
		Status:    StatusStarted,
		StartedAt: time.Now(),
	}

	processorCfg, ok := conf.Processor(processorName)
	if !ok {
		run.Reason = fmt.Sprintf("no configuration for processor %s", processorName)
		return r.finishRun(ctx, run, StatusSkipped, "")
	}
	run.Processor = processorCfg.Name

	source, err := sources.NewProcessorSource(processorCfg)
	if err != nil {
		run.Reason = err.Error()
		return r.finishRun(ctx, run, StatusSkipped, "")
	}

	key := run.Key()
	locker := redlock.NewRunLocker(r.redis, key)
	if err := locker.WaitLock(ctx, runLockDuration, runLockWait); err != nil {
		return nil, errors.Wrapf(err, "could not acquire run lock for %s", key.String())
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release run lock for %s: %v", key.String(), err)
		}
	}()

	if err := r.datasource.RecordRun(ctx, run); err != nil {
		return nil, err
	}
	logrus.Infof("reconciliation run %s started for %s", run.RunID, key.String())

	internal, external, sourceSkips, fetchErr := r.fetchBothSides(ctx, conf, source, processorCfg, date)
	if fetchErr != nil {
		run.Reason = fetchErr.Error()
		notification.NotifyError(fetchErr)
		return r.finishRun(ctx, run, StatusFailed, "")
	}

	if len(internal) == 0 && len(external) == 0 {
		run.Reason = "no records on either side for the value date"
		run.Summary = model.RunSummary{Skipped: len(sourceSkips)}
		// An empty day still clears any unresolved items a previous run of
		// this key may have left behind.
		if err := r.replaceUnresolved(ctx, run, nil); err != nil {
			return nil, err
		}
		return r.finishRun(ctx, run, StatusCompletedEmpty, "")
	}

	engine := NewReconciler(conf.Matching.MatchKeys, conf.AmountTolerance(), conf.TimingWindow())
	result := engine.Reconcile(internal, external)

	if conf.AutoResolve.Enabled {
		resolver := NewAutoResolver(conf.AmountTolerance(), conf.TimingWindow(), conf.AutoResolve.SimilarityThreshold)
		resolved, remainingInternal, remainingExternal := resolver.Resolve(result.UnmatchedInternal, result.UnmatchedExternal)
		if len(resolved) > 0 {
			logrus.Infof("run %s auto-resolved %d near-match pairs pending confirmation", run.RunID, len(resolved))
			result.Matched = append(result.Matched, resolved...)
			result.UnmatchedInternal = remainingInternal
			result.UnmatchedExternal = remainingExternal
			result.Summary.Matched = len(result.Matched)
			result.Summary.UnmatchedInternal = len(result.UnmatchedInternal)
			result.Summary.UnmatchedExternal = len(result.UnmatchedExternal)
			result.Summary.AutoResolved = len(resolved)
		}
	}

	// Fold normalization drops from the sources into the engine's skip tally
	// so the summary accounts for every record either side produced.
	result.Skipped = append(sourceSkips, result.Skipped...)
	result.Summary.Skipped = len(result.Skipped)

	items := buildDiscrepancyItems(key, result)
	run.Summary = result.Summary
	if err := r.replaceUnresolved(ctx, run, items); err != nil {
		return nil, err
	}

	report := RenderReport(key, result)
	return r.finishRun(ctx, run, StatusCompleted, report)
}

// ReconcileAll runs every configured processor for one value date. Failures
// are isolated per processor: one processor's failed or skipped run never
// prevents the others from executing.
func (r *Recon) ReconcileAll(ctx context.Context, date time.Time) ([]*model.RunReport, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	reports := make([]*model.RunReport, 0, len(conf.Processors))
	for _, processor := range conf.Processors {
		report, err := r.ReconcileProcessor(ctx, processor.Name, date)
		if err != nil {
			logrus.Errorf("reconciliation for %s failed: %v", processor.Name, err)
			report = &model.RunReport{
				Processor: processor.Name,
				Status:    StatusFailed,
				Reason:    err.Error(),
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// GetRunStatus returns the persisted run for a (processor, date) key. The
// processor is canonicalized the way runs are stored, so "paystack" finds
// the run triggered for "PAYSTACK".
func (r *Recon) GetRunStatus(ctx context.Context, processor string, date time.Time) (*model.ReconciliationRun, error) {
	return r.datasource.GetRun(ctx, canonicalProcessor(processor), normalizeDate(date))
}

// ListUnresolved returns the unresolved discrepancies, optionally filtered by
// processor and bounded by the run date's age in days.
func (r *Recon) ListUnresolved(ctx context.Context, processor string, maxAgeDays int) ([]*model.DiscrepancyItem, error) {
	return r.datasource.ListUnresolved(ctx, canonicalProcessor(processor), maxAgeDays)
}

// fetchBothSides pulls the ledger and processor datasets for the date, each
// with retries. Losing one side degrades the run to a one-sided comparison
// with a warning; losing both fails it.
func (r *Recon) fetchBothSides(ctx context.Context, conf *config.Configuration, source sources.ProcessorSource, processorCfg config.ProcessorConfig, date time.Time) ([]*model.TransactionRecord, []*model.TransactionRecord, []model.SkippedRecord, error) {
	var skips []model.SkippedRecord

	var internal []*model.TransactionRecord
	internalErr := fetchWithRetry(ctx, conf.FetchRetries, func() error {
		records, skipped, err := r.ledger.FetchEntries(ctx, date, processorCfg.GLCodes)
		if err != nil {
			return err
		}
		internal, skips = records, append(skips, skipped...)
		return nil
	})

	var external []*model.TransactionRecord
	externalErr := fetchWithRetry(ctx, conf.FetchRetries, func() error {
		records, skipped, err := source.FetchTransactions(ctx, date)
		if err != nil {
			return err
		}
		external, skips = records, append(skips, skipped...)
		return nil
	})

	if internalErr != nil && externalErr != nil {
		return nil, nil, nil, errors.Errorf("both sides unavailable: ledger: %v; %s: %v", internalErr, source.Name(), externalErr)
	}
	if internalErr != nil {
		logrus.Warnf("ledger fetch failed, reconciling one-sided against %s: %v", source.Name(), internalErr)
	}
	if externalErr != nil {
		logrus.Warnf("%s fetch failed, reconciling one-sided against the ledger: %v", source.Name(), externalErr)
	}
	return internal, external, skips, nil
}

// replaceUnresolved swaps the key's unresolved items, retrying the optimistic
// version check a bounded number of times. The run lock makes conflicts rare;
// losing the race repeatedly means another writer is live and we stop.
func (r *Recon) replaceUnresolved(ctx context.Context, run *model.ReconciliationRun, items []*model.DiscrepancyItem) error {
	key := run.Key()
	for attempt := 0; attempt < replaceRetries; attempt++ {
		err := r.datasource.ReplaceUnresolved(ctx, key, run.Version, items)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrConcurrentUpdate) {
			return err
		}
		logrus.Warnf("concurrent update on %s, refreshing version (attempt %d)", key.String(), attempt+1)
		current, getErr := r.datasource.GetRun(ctx, run.Processor, run.Date)
		if getErr != nil {
			return getErr
		}
		run.Version = current.Version
	}
	return errors.Wrapf(database.ErrConcurrentUpdate, "giving up on %s after %d attempts", key.String(), replaceRetries)
}

// finishRun persists the run's terminal status and hands back its report.
func (r *Recon) finishRun(ctx context.Context, run *model.ReconciliationRun, status, report string) (*model.RunReport, error) {
	run.Status = status
	run.CompletedAt = ptr.Time(time.Now())

	// A skipped run for an unknown processor was never recorded; record it
	// here so the key's history shows the attempt.
	if run.ID == 0 {
		if err := r.datasource.RecordRun(ctx, run); err != nil {
			return nil, err
		}
	}
	if err := r.datasource.UpdateRunStatus(ctx, run); err != nil {
		return nil, err
	}
	logrus.Infof("reconciliation run %s finished with status %s: %s", run.RunID, run.Status, run.Summary.String())

	if status == StatusCompleted || status == StatusCompletedEmpty {
		notification.NotifyRunCompleted(run, report)
	}
	return &model.RunReport{
		Processor: run.Processor,
		Status:    run.Status,
		Summary:   run.Summary,
		Reason:    run.Reason,
		Report:    report,
	}, nil
}

func fetchWithRetry(ctx context.Context, retries int, fetch func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	return backoff.Retry(fetch, policy)
}

// buildDiscrepancyItems flattens the discrepant partitions into unresolved
// items tagged with the run key. Matched pairs, auto-resolved ones included,
// produce no items.
func buildDiscrepancyItems(key model.RunKey, result model.ReconciliationResult) []*model.DiscrepancyItem {
	now := time.Now()
	newItem := func(t model.DiscrepancyType, reference string, details map[string]any) *model.DiscrepancyItem {
		return &model.DiscrepancyItem{
			DiscrepancyID: model.GenerateUUIDWithSuffix("disc"),
			RunKey:        key.String(),
			Type:          t,
			Processor:     key.Processor,
			Date:          key.Date,
			Reference:     reference,
			Details:       details,
			CreatedAt:     now,
		}
	}

	var items []*model.DiscrepancyItem
	for _, pair := range result.AmountDiscrepant {
		items = append(items, newItem(model.DiscrepancyAmountMismatch, pair.Internal.Reference, map[string]any{
			"internal_amount": pair.Internal.Amount.StringFixed(2),
			"external_amount": pair.External.Amount.StringFixed(2),
			"amount_delta":    pair.AmountDelta.StringFixed(2),
			"timing_breach":   pair.TimingBreach,
		}))
	}
	for _, pair := range result.TimingDiscrepant {
		items = append(items, newItem(model.DiscrepancyTimingMismatch, pair.Internal.Reference, map[string]any{
			"internal_timestamp": pair.Internal.Timestamp.Format(time.RFC3339),
			"external_timestamp": pair.External.Timestamp.Format(time.RFC3339),
			"time_delta":         pair.TimeDelta.String(),
		}))
	}
	for _, record := range result.UnmatchedInternal {
		items = append(items, newItem(model.DiscrepancyUnmatchedInternal, record.Reference, map[string]any{
			"amount":    record.Amount.StringFixed(2),
			"currency":  record.Currency,
			"timestamp": record.Timestamp.Format(time.RFC3339),
		}))
	}
	for _, record := range result.UnmatchedExternal {
		items = append(items, newItem(model.DiscrepancyUnmatchedExternal, record.Reference, map[string]any{
			"amount":      record.Amount.StringFixed(2),
			"currency":    record.Currency,
			"external_id": record.ExternalID,
			"timestamp":   record.Timestamp.Format(time.RFC3339),
		}))
	}
	return items
}

// normalizeDate truncates a timestamp to its UTC calendar date, the
// granularity runs are keyed on.
func normalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// canonicalProcessor maps a caller-supplied processor name onto the
// upper-case form runs and discrepancies are stored under.
func canonicalProcessor(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
