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

package recon

import (
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weezyhq/recon/model"
)

var baseTime = time.Date(2023, 10, 27, 10, 0, 0, 0, time.UTC)

func internalRecord(ref, amount string, ts time.Time) *model.TransactionRecord {
	return &model.TransactionRecord{
		Reference: ref,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "NGN",
		Status:    model.StatusSuccessful,
		Timestamp: ts,
		Source:    model.SourceInternalLedger,
	}
}

func externalRecord(ref, amount string, ts time.Time) *model.TransactionRecord {
	return &model.TransactionRecord{
		Reference: ref,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "NGN",
		Status:    model.StatusSuccessful,
		Timestamp: ts,
		Source:    "PAYSTACK",
	}
}

func defaultReconciler() *Reconciler {
	return NewReconciler([]string{"reference"}, decimal.RequireFromString("0.01"), time.Hour)
}

func TestReconcileExactMatch(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("PSTK_REF1", "10000.00", baseTime)}
	external := []*model.TransactionRecord{externalRecord("PSTK_REF1", "10000.00", baseTime.Add(5*time.Minute))}

	result := defaultReconciler().Reconcile(internal, external)

	require.Len(t, result.Matched, 1)
	assert.Empty(t, result.UnmatchedInternal)
	assert.Empty(t, result.UnmatchedExternal)
	assert.Empty(t, result.AmountDiscrepant)
	assert.Empty(t, result.TimingDiscrepant)
	assert.Equal(t, 1, result.Summary.Matched)
	assert.True(t, result.Matched[0].AmountDelta.IsZero())
}

func TestReconcileToleranceIsInclusive(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("REF1", "100.00", baseTime)}
	// Delta of exactly 0.01 is still a match.
	external := []*model.TransactionRecord{externalRecord("REF1", "100.01", baseTime)}

	result := defaultReconciler().Reconcile(internal, external)

	require.Len(t, result.Matched, 1)
	assert.Empty(t, result.AmountDiscrepant)
}

func TestReconcileJustOverToleranceIsDiscrepant(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("REF1", "100.00", baseTime)}
	// One cent past the 0.01 tolerance tips the pair into discrepancy.
	external := []*model.TransactionRecord{externalRecord("REF1", "100.02", baseTime)}

	result := defaultReconciler().Reconcile(internal, external)

	assert.Empty(t, result.Matched)
	require.Len(t, result.AmountDiscrepant, 1)
	assert.Equal(t, "0.02", result.AmountDiscrepant[0].AmountDelta.StringFixed(2))
}

func TestReconcileTimingWindowIsInclusive(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("REF1", "100.00", baseTime)}
	external := []*model.TransactionRecord{externalRecord("REF1", "100.00", baseTime.Add(time.Hour))}

	result := defaultReconciler().Reconcile(internal, external)

	require.Len(t, result.Matched, 1)
	assert.Empty(t, result.TimingDiscrepant)
}

func TestReconcileAmountDiscrepancy(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("PSTK_REF2", "10000.00", baseTime)}
	external := []*model.TransactionRecord{externalRecord("PSTK_REF2", "10050.00", baseTime)}

	result := defaultReconciler().Reconcile(internal, external)

	assert.Empty(t, result.Matched)
	require.Len(t, result.AmountDiscrepant, 1)
	pair := result.AmountDiscrepant[0]
	assert.Equal(t, "50.00", pair.AmountDelta.StringFixed(2))
	assert.True(t, pair.AmountBreach)
	assert.False(t, pair.TimingBreach)
}

func TestReconcileTimingDiscrepancy(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("REF1", "100.00", baseTime)}
	external := []*model.TransactionRecord{externalRecord("REF1", "100.00", baseTime.Add(3*time.Hour))}

	result := defaultReconciler().Reconcile(internal, external)

	assert.Empty(t, result.Matched)
	assert.Empty(t, result.AmountDiscrepant)
	require.Len(t, result.TimingDiscrepant, 1)
	assert.Equal(t, 3*time.Hour, result.TimingDiscrepant[0].TimeDelta)
}

func TestReconcileBothBreachesReportedOnceUnderAmount(t *testing.T) {
	internal := []*model.TransactionRecord{internalRecord("REF1", "100.00", baseTime)}
	external := []*model.TransactionRecord{externalRecord("REF1", "250.00", baseTime.Add(6*time.Hour))}

	result := defaultReconciler().Reconcile(internal, external)

	require.Len(t, result.AmountDiscrepant, 1)
	assert.Empty(t, result.TimingDiscrepant)
	pair := result.AmountDiscrepant[0]
	assert.True(t, pair.AmountBreach)
	assert.True(t, pair.TimingBreach)
	assert.Equal(t, 1, result.Summary.AmountDiscrepancies)
	assert.Equal(t, 0, result.Summary.TimingDiscrepancies)
}

func TestReconcileUnmatchedBothSides(t *testing.T) {
	internal := []*model.TransactionRecord{
		internalRecord("PSTK_REF1", "10000.00", baseTime),
		internalRecord("INTERNAL_ONLY_001", "500.00", baseTime),
	}
	external := []*model.TransactionRecord{
		externalRecord("PSTK_REF1", "10000.00", baseTime),
		externalRecord("PSTK_REF_UNMATCHED_EXTERNAL", "750.00", baseTime),
	}

	result := defaultReconciler().Reconcile(internal, external)

	require.Len(t, result.Matched, 1)
	require.Len(t, result.UnmatchedInternal, 1)
	require.Len(t, result.UnmatchedExternal, 1)
	assert.Equal(t, "INTERNAL_ONLY_001", result.UnmatchedInternal[0].Reference)
	assert.Equal(t, "PSTK_REF_UNMATCHED_EXTERNAL", result.UnmatchedExternal[0].Reference)
}

func TestReconcileEmptyInputs(t *testing.T) {
	r := defaultReconciler()

	result := r.Reconcile(nil, nil)
	assert.Equal(t, model.RunSummary{}, result.Summary)

	onlyInternal := r.Reconcile([]*model.TransactionRecord{internalRecord("REF1", "10.00", baseTime)}, nil)
	assert.Len(t, onlyInternal.UnmatchedInternal, 1)
	assert.Equal(t, 1, onlyInternal.Summary.Internal)
	assert.Equal(t, 0, onlyInternal.Summary.External)

	onlyExternal := r.Reconcile(nil, []*model.TransactionRecord{externalRecord("REF2", "10.00", baseTime)})
	assert.Len(t, onlyExternal.UnmatchedExternal, 1)
}

func TestReconcileSkipsRecordsWithoutMatchKey(t *testing.T) {
	internal := []*model.TransactionRecord{
		internalRecord("", "100.00", baseTime),
		internalRecord("REF1", "100.00", baseTime),
	}
	external := []*model.TransactionRecord{externalRecord("REF1", "100.00", baseTime)}

	result := defaultReconciler().Reconcile(internal, external)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SourceInternalLedger, result.Skipped[0].Source)
	require.Len(t, result.Matched, 1)
	// A skipped record is not folded into the unmatched partitions.
	assert.Empty(t, result.UnmatchedInternal)
	assert.Equal(t, 1, result.Summary.Skipped)
}

func TestReconcileDuplicateKeysPairPositionally(t *testing.T) {
	internal := []*model.TransactionRecord{
		internalRecord("DUP", "100.00", baseTime),
		internalRecord("DUP", "200.00", baseTime),
		internalRecord("DUP", "300.00", baseTime),
	}
	external := []*model.TransactionRecord{
		externalRecord("DUP", "100.00", baseTime),
		externalRecord("DUP", "200.00", baseTime),
	}

	result := defaultReconciler().Reconcile(internal, external)

	assert.Len(t, result.Matched, 2)
	require.Len(t, result.UnmatchedInternal, 1)
	assert.Equal(t, "300.00", result.UnmatchedInternal[0].Amount.StringFixed(2))
}

func TestReconcileCompositeMatchKey(t *testing.T) {
	r := NewReconciler([]string{"reference", "currency"}, decimal.RequireFromString("0.01"), time.Hour)

	internal := []*model.TransactionRecord{internalRecord("REF1", "100.00", baseTime)}
	usd := externalRecord("REF1", "100.00", baseTime)
	usd.Currency = "USD"

	result := r.Reconcile(internal, []*model.TransactionRecord{usd})

	assert.Empty(t, result.Matched)
	assert.Len(t, result.UnmatchedInternal, 1)
	assert.Len(t, result.UnmatchedExternal, 1)
}

func TestReconcileIsDeterministic(t *testing.T) {
	gofakeit.Seed(11)
	var internal, external []*model.TransactionRecord
	for i := 0; i < 200; i++ {
		ref := fmt.Sprintf("REF_%s_%03d", gofakeit.LetterN(6), i)
		amount := fmt.Sprintf("%d.%02d", gofakeit.Number(1, 100000), gofakeit.Number(0, 99))
		internal = append(internal, internalRecord(ref, amount, baseTime))
		if i%3 != 0 {
			external = append(external, externalRecord(ref, amount, baseTime.Add(time.Minute)))
		}
	}

	r := defaultReconciler()
	first := r.Reconcile(internal, external)
	second := r.Reconcile(internal, external)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Matched, second.Matched)
	assert.Equal(t, first.UnmatchedInternal, second.UnmatchedInternal)
	assert.Equal(t, first.UnmatchedExternal, second.UnmatchedExternal)
}

func TestReconcilePartitionCompleteness(t *testing.T) {
	gofakeit.Seed(7)
	var internal, external []*model.TransactionRecord
	for i := 0; i < 150; i++ {
		ref := fmt.Sprintf("TXN_%04d", i)
		internal = append(internal, internalRecord(ref, "50.00", baseTime))
		switch i % 4 {
		case 0:
			external = append(external, externalRecord(ref, "50.00", baseTime))
		case 1:
			external = append(external, externalRecord(ref, "75.00", baseTime))
		case 2:
			external = append(external, externalRecord(ref, "50.00", baseTime.Add(2*time.Hour)))
		}
	}

	result := defaultReconciler().Reconcile(internal, external)

	paired := len(result.Matched) + len(result.AmountDiscrepant) + len(result.TimingDiscrepant)
	totalInternal := paired + len(result.UnmatchedInternal)
	totalExternal := paired + len(result.UnmatchedExternal)
	assert.Equal(t, len(internal), totalInternal)
	assert.Equal(t, len(external), totalExternal)
	assert.Equal(t, len(internal), result.Summary.Internal)
	assert.Equal(t, len(external), result.Summary.External)
}
