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

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/internal/request"
	"github.com/weezyhq/recon/model"
)

// LedgerSource fetches the core banking system's ledger entries for a value
// date, optionally filtered to the GL accounts relevant to one processor.
type LedgerSource struct {
	url     string
	apiKey  string
	timeout time.Duration
}

// NewLedgerSource builds the internal ledger client from configuration.
func NewLedgerSource(cfg config.LedgerConfig) *LedgerSource {
	return &LedgerSource{
		url:     strings.TrimRight(cfg.Url, "/"),
		apiKey:  cfg.ApiKey,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

// ledgerEntry is the ledger API's native record shape. Amounts arrive as
// JSON numbers or strings and stay raw until normalization, so a bad value
// fails its own record, not the snapshot decode.
type ledgerEntry struct {
	TransactionID   string          `json:"transaction_id"`
	AccountID       string          `json:"account_id"`
	EntryType       string          `json:"entry_type"`
	Amount          json.RawMessage `json:"amount"`
	Currency        string          `json:"currency"`
	Narration       string          `json:"narration"`
	TransactionDate string          `json:"transaction_date"`
	ReferenceNumber string          `json:"reference_number"`
}

type ledgerResponse struct {
	LedgerEntries []ledgerEntry `json:"ledger_entries"`
}

// FetchEntries retrieves and normalizes the ledger entries for a date.
// glCodes filters to the settlement/fee accounts of the processor under
// reconciliation; nil fetches all accounts.
func (l *LedgerSource) FetchEntries(ctx context.Context, date time.Time, glCodes []string) ([]*model.TransactionRecord, []model.SkippedRecord, error) {
	url := fmt.Sprintf("%s/ledger/daily-snapshot?date=%s", l.url, date.Format("2006-01-02"))
	if len(glCodes) > 0 {
		url = fmt.Sprintf("%s&gl_codes=%s", url, strings.Join(glCodes, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, &FetchError{Source: model.SourceInternalLedger, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	var resp ledgerResponse
	if _, err := request.CallWithTimeout(req, l.timeout, &resp); err != nil {
		return nil, nil, &FetchError{Source: model.SourceInternalLedger, Err: errors.Wrap(err, "ledger snapshot")}
	}

	records := make([]*model.TransactionRecord, 0, len(resp.LedgerEntries))
	var skipped []model.SkippedRecord
	for _, entry := range resp.LedgerEntries {
		record, err := normalizeLedgerEntry(entry)
		if err != nil {
			logrus.Warnf("dropping malformed ledger entry %s: %v", entry.TransactionID, err)
			skipped = append(skipped, model.SkippedRecord{
				Source:    model.SourceInternalLedger,
				Reference: entry.ReferenceNumber,
				Reason:    err.Error(),
			})
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

// normalizeLedgerEntry maps a ledger entry onto the common schema. Ledger
// entries are posted bookkeeping rows, so their status is always successful.
func normalizeLedgerEntry(entry ledgerEntry) (*model.TransactionRecord, error) {
	amount, err := jsonDecimal(entry.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", string(entry.Amount))
	}

	ts, err := time.Parse(time.RFC3339, entry.TransactionDate)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid transaction date %q", entry.TransactionDate)
	}

	return &model.TransactionRecord{
		Reference:  entry.ReferenceNumber,
		ExternalID: entry.TransactionID,
		Amount:     amount,
		Currency:   entry.Currency,
		Status:     model.StatusSuccessful,
		Timestamp:  ts,
		Fees:       decimal.Zero,
		Source:     model.SourceInternalLedger,
	}, nil
}
