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

// Package sources holds the two boundary clients a reconciliation run
// depends on: the internal ledger fetch and the processor transaction
// fetch. Each source normalizes its native records into the common
// transaction schema; a record that fails coercion is dropped and logged,
// never zeroed, and never aborts the batch.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/model"
)

// ProcessorSource fetches one payment processor's transaction log for a
// value date, normalized into the common schema. The second return value
// lists records dropped during normalization.
type ProcessorSource interface {
	Name() string
	FetchTransactions(ctx context.Context, date time.Time) ([]*model.TransactionRecord, []model.SkippedRecord, error)
}

// FetchError wraps a top-level source failure: unreachable endpoint or a
// malformed response envelope. It aborts the affected side of the run only.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrUnsupportedProcessor is returned when no source implementation exists
// for a configured or requested processor name.
type ErrUnsupportedProcessor struct {
	Name string
}

func (e *ErrUnsupportedProcessor) Error() string {
	return fmt.Sprintf("unsupported payment processor: %s", e.Name)
}

// jsonDecimal coerces a raw JSON field that may arrive as a bare number or a
// quoted string into an exact decimal. Monetary fields stay raw through the
// response decode and are coerced per record in the normalizers, so one bad
// value drops its record instead of failing the whole fetch.
func jsonDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, errors.New("missing value")
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
		if s == "" {
			return decimal.Decimal{}, errors.New("missing value")
		}
	}
	return decimal.NewFromString(s)
}

// jsonDecimalOrZero is jsonDecimal for optional fields: an absent or null
// value coerces to zero, a present unparsable one is still an error.
func jsonDecimalOrZero(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	return jsonDecimal(raw)
}

// NewProcessorSource builds the source client for a configured processor.
func NewProcessorSource(cfg config.ProcessorConfig) (ProcessorSource, error) {
	switch strings.ToUpper(cfg.Name) {
	case "PAYSTACK":
		return newPaystackSource(cfg), nil
	case "INTERSWITCH", "INTERSWITCH_SETTLEMENT":
		return newInterswitchSource(cfg), nil
	default:
		return nil, &ErrUnsupportedProcessor{Name: cfg.Name}
	}
}
