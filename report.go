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
	"strings"
	"time"

	"github.com/weezyhq/recon/model"
)

// maxReportRows caps the per-section listing in the rendered report. The
// summary line always carries the full counts.
const maxReportRows = 20

// RenderReport produces the deterministic, human-readable summary of a run,
// suitable for audit trails and back-office mail. The second line is the
// stable summary in model.RunSummary's parseable format.
func RenderReport(key model.RunKey, result model.ReconciliationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "--- Reconciliation Report for %s - Date: %s ---\n", key.Processor, key.Date.Format("2006-01-02"))
	b.WriteString(result.Summary.String())
	b.WriteString("\n")

	writePairSection(&b, "Matched", result.Matched)
	writePairSection(&b, "Amount Discrepancies", result.AmountDiscrepant)
	writePairSection(&b, "Timing Discrepancies", result.TimingDiscrepant)
	writeRecordSection(&b, "Unmatched Internal", result.UnmatchedInternal)
	writeRecordSection(&b, "Unmatched External", result.UnmatchedExternal)

	if len(result.Skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped (%d):\n", len(result.Skipped))
		for i, skip := range result.Skipped {
			if i == maxReportRows {
				fmt.Fprintf(&b, "  ... and %d more\n", len(result.Skipped)-maxReportRows)
				break
			}
			fmt.Fprintf(&b, "  [%s] %s: %s\n", skip.Source, skip.Reference, skip.Reason)
		}
	}

	return b.String()
}

func writePairSection(b *strings.Builder, title string, pairs []model.MatchedPair) {
	if len(pairs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d):\n", title, len(pairs))
	for i, pair := range pairs {
		if i == maxReportRows {
			fmt.Fprintf(b, "  ... and %d more\n", len(pairs)-maxReportRows)
			break
		}
		line := fmt.Sprintf("  %s internal=%s %s external=%s %s delta=%s time_delta=%s",
			pair.Internal.Reference,
			pair.Internal.Amount.StringFixed(2), pair.Internal.Currency,
			pair.External.Amount.StringFixed(2), pair.External.Currency,
			pair.AmountDelta.StringFixed(2),
			pair.TimeDelta.Round(time.Second),
		)
		if pair.AutoResolved {
			line += " (auto-resolved, needs confirmation)"
		}
		b.WriteString(line + "\n")
	}
}

func writeRecordSection(b *strings.Builder, title string, records []*model.TransactionRecord) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d):\n", title, len(records))
	for i, record := range records {
		if i == maxReportRows {
			fmt.Fprintf(b, "  ... and %d more\n", len(records)-maxReportRows)
			break
		}
		fmt.Fprintf(b, "  %s amount=%s %s source=%s at=%s\n",
			record.Reference,
			record.Amount.StringFixed(2), record.Currency,
			record.Source,
			record.Timestamp.Format(time.RFC3339),
		)
	}
}
