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
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DiscrepancyType classifies an unresolved reconciliation item.
type DiscrepancyType string

const (
	DiscrepancyUnmatchedInternal DiscrepancyType = "UNMATCHED_INTERNAL"
	DiscrepancyUnmatchedExternal DiscrepancyType = "UNMATCHED_EXTERNAL"
	DiscrepancyAmountMismatch    DiscrepancyType = "AMOUNT_MISMATCH"
	DiscrepancyTimingMismatch    DiscrepancyType = "TIMING_MISMATCH"
)

// RunKey identifies one reconciliation run: a processor and a value date.
type RunKey struct {
	Processor string
	Date      time.Time
}

// String renders the run key in its persisted form, e.g. "RECON_PAYSTACK_20231027".
func (k RunKey) String() string {
	return fmt.Sprintf("RECON_%s_%s", k.Processor, k.Date.Format("20060102"))
}

// ReconciliationRun is the persisted record of one (processor, date) run.
// A run is immutable once completed, except that re-executing the same key
// replaces the unresolved items recorded against it.
type ReconciliationRun struct {
	ID        int64      `json:"-"`
	RunID     string     `json:"run_id"`
	Processor string     `json:"processor"`
	Date      time.Time  `json:"date"`
	Status    string     `json:"status"`
	Summary   RunSummary `json:"summary"`
	Reason    string     `json:"reason,omitempty"`
	// Version guards the replace-unresolved-by-key write. Two concurrent
	// runs for the same key cannot both bump it.
	Version     int64      `json:"-"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key returns the run's composite key.
func (r *ReconciliationRun) Key() RunKey {
	return RunKey{Processor: r.Processor, Date: r.Date}
}

// RunSummary holds the per-partition counts of a completed run.
type RunSummary struct {
	Internal            int `json:"internal"`
	External            int `json:"external"`
	Matched             int `json:"matched"`
	UnmatchedInternal   int `json:"unmatched_internal"`
	UnmatchedExternal   int `json:"unmatched_external"`
	AmountDiscrepancies int `json:"amount_discrepancies"`
	TimingDiscrepancies int `json:"timing_discrepancies"`
	Skipped             int `json:"skipped"`
	AutoResolved        int `json:"auto_resolved"`
}

// String renders the summary in its stable, parseable form. Downstream
// tooling greps this line out of reports; the format must not change.
func (s RunSummary) String() string {
	return fmt.Sprintf(
		"Internal: %d, External: %d, Matched: %d, Unmatched Internal: %d, Unmatched External: %d, Amount Disc: %d, Timing Disc: %d, Skipped: %d",
		s.Internal, s.External, s.Matched, s.UnmatchedInternal, s.UnmatchedExternal,
		s.AmountDiscrepancies, s.TimingDiscrepancies, s.Skipped,
	)
}

// MatchedPair is a pair of records joined on the match keys. AmountDelta and
// TimeDelta are recorded so discrepant pairs stay queryable on both
// dimensions even though summary classification counts each pair once.
type MatchedPair struct {
	Internal     *TransactionRecord `json:"internal"`
	External     *TransactionRecord `json:"external"`
	AmountDelta  decimal.Decimal    `json:"amount_delta"`
	TimeDelta    time.Duration      `json:"time_delta"`
	AmountBreach bool               `json:"amount_breach"`
	TimingBreach bool               `json:"timing_breach"`
	// AutoResolved marks pairs promoted by the heuristic pass rather than
	// an exact key join. These require human confirmation before being
	// treated as authoritative.
	AutoResolved bool `json:"auto_resolved,omitempty"`
}

// SkippedRecord is a record excluded from the join because a field could not
// be coerced or the match key was unusable. Skips are surfaced as a distinct
// count and never folded into the unmatched partitions.
type SkippedRecord struct {
	Source    string `json:"source"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason"`
}

// ReconciliationResult is the engine's output: five named partitions plus
// the skipped tally. Each input record lands in exactly one partition (or in
// Skipped); pairs breaching both tolerance and timing are placed in
// AmountDiscrepant only, with TimingBreach set.
type ReconciliationResult struct {
	Matched           []MatchedPair        `json:"matched"`
	UnmatchedInternal []*TransactionRecord `json:"unmatched_internal"`
	UnmatchedExternal []*TransactionRecord `json:"unmatched_external"`
	AmountDiscrepant  []MatchedPair        `json:"amount_discrepant"`
	TimingDiscrepant  []MatchedPair        `json:"timing_discrepant"`
	Skipped           []SkippedRecord      `json:"skipped"`
	Summary           RunSummary           `json:"summary"`
}

// DiscrepancyItem is one unresolved item carried on the global unresolved
// list. Every item belongs to exactly one run key at a time; re-running a key
// replaces all items tagged with it.
type DiscrepancyItem struct {
	DiscrepancyID string          `json:"discrepancy_id"`
	RunKey        string          `json:"run_key"`
	Type          DiscrepancyType `json:"type"`
	Processor     string          `json:"processor"`
	Date          time.Time       `json:"date"`
	Reference     string          `json:"reference"`
	Details       map[string]any  `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RunReport is what a single run hands back to its caller: the persisted run
// plus the rendered report text. A failed run still produces a report entry
// with a human-readable reason.
type RunReport struct {
	Processor string     `json:"processor"`
	Status    string     `json:"status"`
	Summary   RunSummary `json:"summary"`
	Reason    string     `json:"reason,omitempty"`
	Report    string     `json:"report,omitempty"`
}
