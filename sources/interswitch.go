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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/internal/request"
	"github.com/weezyhq/recon/model"
)

// interswitchSuccessCode is the settlement response code meaning success;
// every other code normalizes to failed.
const interswitchSuccessCode = "00"

type interswitchSource struct {
	name    string
	url     string
	secret  string
	timeout time.Duration
}

func newInterswitchSource(cfg config.ProcessorConfig) *interswitchSource {
	return &interswitchSource{
		name:    cfg.Name,
		url:     cfg.Url,
		secret:  cfg.SecretKey,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

func (i *interswitchSource) Name() string {
	return i.name
}

// interswitchTxn is the settlement report's native record shape. Amounts are
// already in major units; currency is not carried and defaults to NGN.
// Monetary fields stay raw until normalization.
type interswitchTxn struct {
	TransactionReference     string          `json:"transactionReference"`
	Amount                   json.RawMessage `json:"amount"`
	ResponseCode             string          `json:"responseCode"`
	TransactionDate          string          `json:"transactionDate"`
	RetrievalReferenceNumber string          `json:"retrievalReferenceNumber"`
	Fee                      json.RawMessage `json:"fee"`
}

type interswitchResponse struct {
	Data []interswitchTxn `json:"data"`
}

func (i *interswitchSource) FetchTransactions(ctx context.Context, date time.Time) ([]*model.TransactionRecord, []model.SkippedRecord, error) {
	url := fmt.Sprintf("%s?reportDate=%s&type=SETTLEMENT", i.url, date.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, &FetchError{Source: i.name, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+i.secret)

	var resp interswitchResponse
	if _, err := request.CallWithTimeout(req, i.timeout, &resp); err != nil {
		return nil, nil, &FetchError{Source: i.name, Err: errors.Wrap(err, "settlement report")}
	}

	records := make([]*model.TransactionRecord, 0, len(resp.Data))
	var skipped []model.SkippedRecord
	for _, txn := range resp.Data {
		record, err := i.normalize(txn)
		if err != nil {
			logrus.Warnf("dropping malformed %s transaction %s: %v", i.name, txn.TransactionReference, err)
			skipped = append(skipped, model.SkippedRecord{
				Source:    i.name,
				Reference: txn.TransactionReference,
				Reason:    err.Error(),
			})
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

func (i *interswitchSource) normalize(txn interswitchTxn) (*model.TransactionRecord, error) {
	amount, err := jsonDecimal(txn.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", string(txn.Amount))
	}

	fees, err := jsonDecimalOrZero(txn.Fee)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid fee %q", string(txn.Fee))
	}

	ts, err := time.Parse(time.RFC3339, txn.TransactionDate)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid transaction date %q", txn.TransactionDate)
	}

	status := model.StatusFailed
	if txn.ResponseCode == interswitchSuccessCode {
		status = model.StatusSuccessful
	}

	// RRN is the canonical identifier when present.
	externalID := txn.RetrievalReferenceNumber
	if externalID == "" {
		externalID = txn.TransactionReference
	}

	return &model.TransactionRecord{
		Reference:  txn.TransactionReference,
		ExternalID: externalID,
		Amount:     amount,
		Currency:   "NGN",
		Status:     status,
		Timestamp:  ts,
		Fees:       fees,
		Source:     i.name,
	}, nil
}
