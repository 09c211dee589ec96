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
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/weezyhq/recon/model"
)

// AutoResolver pairs near-matches left over after the keyed join: records
// whose amounts agree within tolerance, whose timestamps fall inside the
// window, and whose references are similar enough. The scan is greedy: the
// first sufficiently similar candidate wins and neither record is
// reconsidered. It is not globally optimal and similarity-based pairing
// can produce false positives. Resolved pairs are flagged and should be
// confirmed by a human before being treated as authoritative.
type AutoResolver struct {
	amountTolerance     decimal.Decimal
	timeWindow          time.Duration
	similarityThreshold float64
}

// NewAutoResolver builds the heuristic pass with the given limits.
func NewAutoResolver(amountTolerance decimal.Decimal, timeWindow time.Duration, similarityThreshold float64) *AutoResolver {
	return &AutoResolver{
		amountTolerance:     amountTolerance,
		timeWindow:          timeWindow,
		similarityThreshold: similarityThreshold,
	}
}

// Resolve scans the two unmatched sets pairwise and returns the promoted
// pairs plus whatever remains unmatched on each side. O(n·m); fine for daily
// batch sizes.
func (a *AutoResolver) Resolve(unmatchedInternal, unmatchedExternal []*model.TransactionRecord) ([]model.MatchedPair, []*model.TransactionRecord, []*model.TransactionRecord) {
	var resolved []model.MatchedPair
	var remainingInternal []*model.TransactionRecord
	used := make([]bool, len(unmatchedExternal))

	for _, in := range unmatchedInternal {
		matchedIdx := -1
		for i, ex := range unmatchedExternal {
			if used[i] {
				continue
			}
			if a.isNearMatch(in, ex) {
				matchedIdx = i
				break
			}
		}
		if matchedIdx < 0 {
			remainingInternal = append(remainingInternal, in)
			continue
		}

		ex := unmatchedExternal[matchedIdx]
		used[matchedIdx] = true
		timeDelta := in.Timestamp.Sub(ex.Timestamp)
		if timeDelta < 0 {
			timeDelta = -timeDelta
		}
		resolved = append(resolved, model.MatchedPair{
			Internal:     in,
			External:     ex,
			AmountDelta:  in.Amount.Sub(ex.Amount).Abs(),
			TimeDelta:    timeDelta,
			AutoResolved: true,
		})
	}

	var remainingExternal []*model.TransactionRecord
	for i, ex := range unmatchedExternal {
		if !used[i] {
			remainingExternal = append(remainingExternal, ex)
		}
	}
	return resolved, remainingInternal, remainingExternal
}

func (a *AutoResolver) isNearMatch(in, ex *model.TransactionRecord) bool {
	if in.Amount.Sub(ex.Amount).Abs().GreaterThan(a.amountTolerance) {
		return false
	}
	timeDelta := in.Timestamp.Sub(ex.Timestamp)
	if timeDelta < 0 {
		timeDelta = -timeDelta
	}
	if timeDelta > a.timeWindow {
		return false
	}
	return referenceSimilarity(in.Reference, ex.Reference) >= a.similarityThreshold
}

// referenceSimilarity scores two references on a 0..1 scale as a normalized
// Levenshtein distance. Comparison is case-insensitive here: unlike the
// exact join, the heuristic pass trades precision for recall.
func referenceSimilarity(ref1, ref2 string) float64 {
	ref1 = strings.ToLower(strings.TrimSpace(ref1))
	ref2 = strings.ToLower(strings.TrimSpace(ref2))
	if ref1 == "" || ref2 == "" {
		return 0
	}
	if ref1 == ref2 {
		return 1
	}

	distance := levenshtein.DistanceForStrings([]rune(ref1), []rune(ref2), levenshtein.DefaultOptions)
	maxLength := len([]rune(ref1))
	if l := len([]rune(ref2)); l > maxLength {
		maxLength = l
	}
	return 1 - float64(distance)/float64(maxLength)
}
