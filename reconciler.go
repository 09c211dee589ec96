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
	"time"

	"github.com/shopspring/decimal"

	"github.com/weezyhq/recon/model"
)

// Reconciler joins two normalized datasets on the configured match keys and
// partitions every record into matched / unmatched-internal /
// unmatched-external / amount-discrepant / timing-discrepant. The join is a
// grouped full outer join: both sides are indexed by match key, then the
// union of keys is walked in input order so identical inputs always produce
// identical partitions.
type Reconciler struct {
	matchKeys       []string
	amountTolerance decimal.Decimal
	timingWindow    time.Duration
}

// NewReconciler builds an engine for the given match keys and tolerances.
// Both tolerances are inclusive: a delta exactly equal to the tolerance is
// still a match.
func NewReconciler(matchKeys []string, amountTolerance decimal.Decimal, timingWindow time.Duration) *Reconciler {
	if len(matchKeys) == 0 {
		matchKeys = []string{"reference"}
	}
	return &Reconciler{
		matchKeys:       matchKeys,
		amountTolerance: amountTolerance,
		timingWindow:    timingWindow,
	}
}

// Reconcile partitions the two record sets. Records without a usable match
// key are excluded from the join and surfaced under Skipped; they never
// alter the comparison of other records and are not folded into the
// unmatched partitions.
func (r *Reconciler) Reconcile(internal, external []*model.TransactionRecord) model.ReconciliationResult {
	var result model.ReconciliationResult

	internalByKey, internalOrder := r.group(internal, &result)
	externalByKey, externalOrder := r.group(external, &result)

	for _, key := range internalOrder {
		ins := internalByKey[key]
		exts := externalByKey[key]
		if len(exts) == 0 {
			result.UnmatchedInternal = append(result.UnmatchedInternal, ins...)
			continue
		}

		// Pair records positionally when a key repeats on both sides;
		// leftovers on either side stay unmatched.
		n := len(ins)
		if len(exts) < n {
			n = len(exts)
		}
		for i := 0; i < n; i++ {
			r.classify(ins[i], exts[i], &result)
		}
		result.UnmatchedInternal = append(result.UnmatchedInternal, ins[n:]...)
		result.UnmatchedExternal = append(result.UnmatchedExternal, exts[n:]...)
	}

	for _, key := range externalOrder {
		if _, joined := internalByKey[key]; joined {
			continue
		}
		result.UnmatchedExternal = append(result.UnmatchedExternal, externalByKey[key]...)
	}

	result.Summary = r.summarize(len(internal), len(external), &result)
	return result
}

// group indexes records by match key, preserving first-seen key order.
// Records with no usable key are routed to Skipped.
func (r *Reconciler) group(records []*model.TransactionRecord, result *model.ReconciliationResult) (map[string][]*model.TransactionRecord, []string) {
	byKey := make(map[string][]*model.TransactionRecord)
	var order []string
	for _, record := range records {
		if !record.HasMatchKey(r.matchKeys) {
			result.Skipped = append(result.Skipped, model.SkippedRecord{
				Source:    record.Source,
				Reference: record.Reference,
				Reason:    "record has no usable match key",
			})
			continue
		}
		key := record.MatchKey(r.matchKeys)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], record)
	}
	return byKey, order
}

// classify places a keyed pair into matched, amount-discrepant or
// timing-discrepant. A pair breaching both tolerances is reported once,
// under amount (classification precedence), with TimingBreach set so the
// timing condition stays queryable.
func (r *Reconciler) classify(in, ex *model.TransactionRecord, result *model.ReconciliationResult) {
	amountDelta := in.Amount.Sub(ex.Amount).Abs()
	timeDelta := in.Timestamp.Sub(ex.Timestamp)
	if timeDelta < 0 {
		timeDelta = -timeDelta
	}

	pair := model.MatchedPair{
		Internal:     in,
		External:     ex,
		AmountDelta:  amountDelta,
		TimeDelta:    timeDelta,
		AmountBreach: amountDelta.GreaterThan(r.amountTolerance),
		TimingBreach: timeDelta > r.timingWindow,
	}

	switch {
	case pair.AmountBreach:
		result.AmountDiscrepant = append(result.AmountDiscrepant, pair)
	case pair.TimingBreach:
		result.TimingDiscrepant = append(result.TimingDiscrepant, pair)
	default:
		result.Matched = append(result.Matched, pair)
	}
}

func (r *Reconciler) summarize(internalCount, externalCount int, result *model.ReconciliationResult) model.RunSummary {
	return model.RunSummary{
		Internal:            internalCount,
		External:            externalCount,
		Matched:             len(result.Matched),
		UnmatchedInternal:   len(result.UnmatchedInternal),
		UnmatchedExternal:   len(result.UnmatchedExternal),
		AmountDiscrepancies: len(result.AmountDiscrepant),
		TimingDiscrepancies: len(result.TimingDiscrepant),
		Skipped:             len(result.Skipped),
	}
}
