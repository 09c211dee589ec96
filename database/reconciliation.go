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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weezyhq/recon/model"
)

// ErrConcurrentUpdate is returned when the optimistic version check on a
// replace-unresolved write fails: another run for the same key committed
// between the caller's read and its write.
var ErrConcurrentUpdate = errors.New("reconciliation run was updated concurrently")

// ErrRunNotFound is returned when no run exists for a (processor, date) key.
var ErrRunNotFound = errors.New("reconciliation run not found")

func runCacheKey(key model.RunKey) string {
	return fmt.Sprintf("run:%s", key.String())
}

// RecordRun upserts the run row for its (processor, date) key and loads the
// stored version back onto the run. Re-running a key resets the row to the
// new run's identity and status; history of prior attempts for the same key
// is not kept.
func (d Datasource) RecordRun(ctx context.Context, run *model.ReconciliationRun) error {
	ctx, span := otel.Tracer("reconciliation.database").Start(ctx, "Recording reconciliation run")
	defer span.End()

	span.SetAttributes(
		attribute.String("run.processor", run.Processor),
		attribute.String("run.date", run.Date.Format("2006-01-02")),
	)

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO recon.reconciliation_runs
			(run_id, processor, run_date, status, reason, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (processor, run_date) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			started_at = EXCLUDED.started_at,
			completed_at = NULL
		RETURNING id, version
	`, run.RunID, run.Processor, run.Date, run.Status, run.Reason, run.StartedAt).
		Scan(&run.ID, &run.Version)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to record reconciliation run")
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, runCacheKey(run.Key()))
	}
	span.AddEvent("Reconciliation run recorded", trace.WithAttributes(attribute.String("run.id", run.RunID)))
	return nil
}

// GetRun fetches the run for a (processor, date) key, consulting the cache
// first. Returns ErrRunNotFound when the key has never been executed.
func (d Datasource) GetRun(ctx context.Context, processor string, date time.Time) (*model.ReconciliationRun, error) {
	ctx, span := otel.Tracer("reconciliation.database").Start(ctx, "Fetching reconciliation run")
	defer span.End()

	key := model.RunKey{Processor: processor, Date: date}
	if d.Cache != nil {
		var cached model.ReconciliationRun
		if err := d.Cache.Get(ctx, runCacheKey(key), &cached); err == nil && cached.RunID != "" {
			span.AddEvent("Run fetched from cache")
			return &cached, nil
		}
	}

	run := &model.ReconciliationRun{}
	var completedAt sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, run_id, processor, run_date, status,
			internal_records, external_records, matched,
			unmatched_internal, unmatched_external,
			amount_discrepancies, timing_discrepancies, skipped, auto_resolved,
			reason, version, started_at, completed_at
		FROM recon.reconciliation_runs
		WHERE processor = $1 AND run_date = $2
	`, processor, date).Scan(
		&run.ID, &run.RunID, &run.Processor, &run.Date, &run.Status,
		&run.Summary.Internal, &run.Summary.External, &run.Summary.Matched,
		&run.Summary.UnmatchedInternal, &run.Summary.UnmatchedExternal,
		&run.Summary.AmountDiscrepancies, &run.Summary.TimingDiscrepancies,
		&run.Summary.Skipped, &run.Summary.AutoResolved,
		&run.Reason, &run.Version, &run.StartedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to fetch reconciliation run")
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, runCacheKey(key), run, 5*time.Minute)
	}
	return run, nil
}

// UpdateRunStatus writes the run's terminal (or intermediate) status plus its
// summary counts and reason. CompletedAt is persisted as given; the workflow
// sets it only on terminal statuses.
func (d Datasource) UpdateRunStatus(ctx context.Context, run *model.ReconciliationRun) error {
	ctx, span := otel.Tracer("reconciliation.database").Start(ctx, "Updating reconciliation run status")
	defer span.End()

	span.SetAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("run.status", run.Status),
	)

	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recon.reconciliation_runs
		SET status = $2,
			internal_records = $3, external_records = $4, matched = $5,
			unmatched_internal = $6, unmatched_external = $7,
			amount_discrepancies = $8, timing_discrepancies = $9,
			skipped = $10, auto_resolved = $11,
			reason = $12, completed_at = $13
		WHERE run_id = $1
	`, run.RunID, run.Status,
		run.Summary.Internal, run.Summary.External, run.Summary.Matched,
		run.Summary.UnmatchedInternal, run.Summary.UnmatchedExternal,
		run.Summary.AmountDiscrepancies, run.Summary.TimingDiscrepancies,
		run.Summary.Skipped, run.Summary.AutoResolved,
		run.Reason, completedAt)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to update reconciliation run status")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		return ErrRunNotFound
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, runCacheKey(run.Key()))
	}
	return nil
}

// ReplaceUnresolved swaps the unresolved items recorded against a run key,
// in one transaction, guarded by the run's version. The version bump and the
// delete-then-insert commit together or not at all, so readers never observe
// a half-replaced list.
func (d Datasource) ReplaceUnresolved(ctx context.Context, key model.RunKey, version int64, items []*model.DiscrepancyItem) error {
	ctx, span := otel.Tracer("reconciliation.database").Start(ctx, "Replacing unresolved discrepancies")
	defer span.End()

	span.SetAttributes(
		attribute.String("run.key", key.String()),
		attribute.Int("items.count", len(items)),
	)

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE recon.reconciliation_runs
		SET version = version + 1
		WHERE processor = $1 AND run_date = $2 AND version = $3
	`, key.Processor, key.Date, version)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to bump run version")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		span.AddEvent("Version check failed")
		return ErrConcurrentUpdate
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM recon.discrepancies WHERE run_key = $1
	`, key.String())
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to clear unresolved discrepancies")
	}

	for _, item := range items {
		details, marshalErr := json.Marshal(item.Details)
		if marshalErr != nil {
			return errors.Wrap(marshalErr, "failed to marshal discrepancy details")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recon.discrepancies
				(discrepancy_id, run_key, type, processor, run_date, reference, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.DiscrepancyID, item.RunKey, item.Type, item.Processor, item.Date,
			item.Reference, details, item.CreatedAt)
		if err != nil {
			span.RecordError(err)
			return errors.Wrap(err, "failed to insert discrepancy")
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to commit unresolved replacement")
	}

	// The version just moved; a cached copy of the run would fail the next
	// optimistic check.
	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, runCacheKey(key))
	}
	span.AddEvent("Unresolved discrepancies replaced")
	return nil
}

// ListUnresolved returns unresolved items, optionally filtered by processor
// and bounded to runs whose value date falls within the last maxAgeDays. The
// age filter is on the run date, not on when the item was written, so
// re-running an old key does not resurrect it past the cutoff. Ordering is
// deterministic.
func (d Datasource) ListUnresolved(ctx context.Context, processor string, maxAgeDays int) ([]*model.DiscrepancyItem, error) {
	ctx, span := otel.Tracer("reconciliation.database").Start(ctx, "Listing unresolved discrepancies")
	defer span.End()

	query := `
		SELECT discrepancy_id, run_key, type, processor, run_date, reference, details, created_at
		FROM recon.discrepancies
		WHERE ($1 = '' OR processor = $1)
	`
	args := []interface{}{processor}
	if maxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
		query += ` AND run_date >= $2`
		args = append(args, cutoff)
	}
	query += ` ORDER BY run_date DESC, processor, discrepancy_id`

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to list unresolved discrepancies")
	}
	defer rows.Close()

	var items []*model.DiscrepancyItem
	for rows.Next() {
		item := &model.DiscrepancyItem{}
		var details []byte
		err = rows.Scan(&item.DiscrepancyID, &item.RunKey, &item.Type, &item.Processor,
			&item.Date, &item.Reference, &details, &item.CreatedAt)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to scan discrepancy")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &item.Details); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal discrepancy details")
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate discrepancies")
	}

	span.SetAttributes(attribute.Int("items.count", len(items)))
	return items, nil
}
