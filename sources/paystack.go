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
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/internal/request"
	"github.com/weezyhq/recon/model"
)

// paystackStatus is the Paystack-specific status mapping table. Statuses not
// listed here normalize to failed.
var paystackStatus = map[string]model.TransactionStatus{
	"success": model.StatusSuccessful,
	"pending": model.StatusPending,
	"ongoing": model.StatusPending,
	"failed":  model.StatusFailed,
}

// kobo is the minor-unit divisor for Paystack amounts (NGN kobo per naira).
var kobo = decimal.NewFromInt(100)

type paystackSource struct {
	name    string
	url     string
	secret  string
	timeout time.Duration
}

func newPaystackSource(cfg config.ProcessorConfig) *paystackSource {
	return &paystackSource{
		name:    cfg.Name,
		url:     cfg.Url,
		secret:  cfg.SecretKey,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}

func (p *paystackSource) Name() string {
	return p.name
}

// paystackTxn is Paystack's native transaction shape. Amounts and fees are
// integers in kobo; they stay raw until normalization so one malformed
// value drops its record, not the whole page.
type paystackTxn struct {
	ID        json.Number     `json:"id"`
	Reference string          `json:"reference"`
	Amount    json.RawMessage `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	PaidAt    string          `json:"paid_at"`
	Fees      json.RawMessage `json:"fees"`
}

type paystackResponse struct {
	Status  bool          `json:"status"`
	Message string        `json:"message"`
	Data    []paystackTxn `json:"data"`
}

func (p *paystackSource) FetchTransactions(ctx context.Context, date time.Time) ([]*model.TransactionRecord, []model.SkippedRecord, error) {
	day := date.Format("2006-01-02")
	url := fmt.Sprintf("%s?from=%s&to=%s&perPage=200", p.url, day, day)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, &FetchError{Source: p.name, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)

	var resp paystackResponse
	if _, err := request.CallWithTimeout(req, p.timeout, &resp); err != nil {
		return nil, nil, &FetchError{Source: p.name, Err: errors.Wrap(err, "list transactions")}
	}
	if !resp.Status {
		return nil, nil, &FetchError{Source: p.name, Err: fmt.Errorf("api rejected request: %s", resp.Message)}
	}

	records := make([]*model.TransactionRecord, 0, len(resp.Data))
	var skipped []model.SkippedRecord
	for _, txn := range resp.Data {
		record, err := p.normalize(txn)
		if err != nil {
			logrus.Warnf("dropping malformed %s transaction %s: %v", p.name, txn.ID.String(), err)
			skipped = append(skipped, model.SkippedRecord{
				Source:    p.name,
				Reference: txn.Reference,
				Reason:    err.Error(),
			})
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

// normalize maps a Paystack transaction onto the common schema. Paystack
// amounts arrive in kobo and are converted to major units.
func (p *paystackSource) normalize(txn paystackTxn) (*model.TransactionRecord, error) {
	amount, err := jsonDecimal(txn.Amount)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", string(txn.Amount))
	}

	fees, err := jsonDecimalOrZero(txn.Fees)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid fees %q", string(txn.Fees))
	}

	ts, err := time.Parse(time.RFC3339, txn.PaidAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid paid_at %q", txn.PaidAt)
	}

	status, ok := paystackStatus[txn.Status]
	if !ok {
		status = model.StatusFailed
	}

	return &model.TransactionRecord{
		Reference:  txn.Reference,
		ExternalID: txn.ID.String(),
		Amount:     amount.Div(kobo),
		Currency:   txn.Currency,
		Status:     status,
		Timestamp:  ts,
		Fees:       fees.Div(kobo),
		Source:     p.name,
	}, nil
}
