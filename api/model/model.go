package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CreateReconciliation is the body of a run request. Date is the value date
// in YYYY-MM-DD form; an empty processor with All set runs every configured
// processor.
type CreateReconciliation struct {
	Processor string `json:"processor"`
	Date      string `json:"date"`
	All       bool   `json:"all"`
}

func (c CreateReconciliation) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Processor, validation.Required.When(!c.All).Error("processor is required unless all is set")),
		validation.Field(&c.Date, validation.Required, validation.Date("2006-01-02")),
	)
}

// ParseDate returns the validated value date.
func (c CreateReconciliation) ParseDate() (time.Time, error) {
	return time.Parse("2006-01-02", c.Date)
}
