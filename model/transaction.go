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
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceInternalLedger identifies records fetched from the core banking ledger.
// Processor records carry the processor name (e.g. "PAYSTACK") as their source.
const SourceInternalLedger = "INTERNAL_LEDGER"

// TransactionStatus is the normalized status of a transaction record. Each
// source maps its native status representation onto one of these values.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusSuccessful TransactionStatus = "successful"
	StatusFailed     TransactionStatus = "failed"
)

// TransactionRecord is the common schema both sides of a reconciliation are
// normalized into before matching. Amounts and fees are exact decimals;
// float64 is never used for money.
type TransactionRecord struct {
	// Reference is the matching key. It must be unique within a
	// (source, date) partition for unambiguous matching. Internal and
	// external references may differ in format.
	Reference  string            `json:"reference"`
	ExternalID string            `json:"external_id"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Status     TransactionStatus `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Fees       decimal.Decimal   `json:"fees"`
	Source     string            `json:"source"`
}

// MatchKey builds the composite join key for the given ordered field names.
// Reference values are trimmed but kept case-sensitive: bank references are
// case-significant, so no case folding is applied.
func (t *TransactionRecord) MatchKey(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		switch field {
		case "reference":
			parts = append(parts, strings.TrimSpace(t.Reference))
		case "external_id":
			parts = append(parts, strings.TrimSpace(t.ExternalID))
		case "currency":
			parts = append(parts, strings.TrimSpace(t.Currency))
		case "amount":
			parts = append(parts, t.Amount.String())
		}
	}
	return strings.Join(parts, "|")
}

// HasMatchKey reports whether the record carries usable values for every
// match-key field. Records without a usable key cannot participate in the
// join and are counted as skipped.
func (t *TransactionRecord) HasMatchKey(fields []string) bool {
	for _, field := range fields {
		switch field {
		case "reference":
			if strings.TrimSpace(t.Reference) == "" {
				return false
			}
		case "external_id":
			if strings.TrimSpace(t.ExternalID) == "" {
				return false
			}
		case "currency":
			if strings.TrimSpace(t.Currency) == "" {
				return false
			}
		}
	}
	return true
}
