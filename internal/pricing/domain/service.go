package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	coupondomain "github.com/smallbiznis/homeserve/internal/coupon/domain"
)

type Recurrence string

const (
	RecurrenceOneTime     Recurrence = "one-time"
	RecurrenceWeekly      Recurrence = "weekly"
	RecurrenceFortnightly Recurrence = "fortnightly"
	RecurrenceMonthly     Recurrence = "monthly"
)

// ParseRecurrence normalizes a cadence name. Empty input means one-time.
func ParseRecurrence(value string) (Recurrence, error) {
	switch Recurrence(strings.ToLower(strings.TrimSpace(value))) {
	case "", RecurrenceOneTime:
		return RecurrenceOneTime, nil
	case RecurrenceWeekly:
		return RecurrenceWeekly, nil
	case RecurrenceFortnightly:
		return RecurrenceFortnightly, nil
	case RecurrenceMonthly:
		return RecurrenceMonthly, nil
	default:
		return "", ErrInvalidRecurrence
	}
}

func (r Recurrence) IsRecurring() bool {
	return r != RecurrenceOneTime
}

type Calculator interface {
	Calculate(ctx context.Context, req Request) (*Breakdown, error)
}

// CouponValidator is the read-only half of the coupon ledger.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerIdentity string) (coupondomain.ValidationResult, error)
}

type Request struct {
	ServiceID        string          `json:"service_id"`
	Extras           []string        `json:"extras"`
	Recurrence       string          `json:"recurrence"`
	ManualDiscount   decimal.Decimal `json:"manual_discount"`
	CouponCode       string          `json:"coupon_code"`
	CustomerIdentity string          `json:"customer_identity"`
}

// Breakdown is the immutable, auditable result of one price calculation.
type Breakdown struct {
	ServiceID          string          `json:"service_id"`
	ServiceName        string          `json:"service_name"`
	ServiceDescription string          `json:"service_description,omitempty"`
	Recurrence         Recurrence      `json:"recurrence"`
	Extras             []string        `json:"extras"`
	IgnoredExtras      []string        `json:"ignored_extras,omitempty"`
	BasePrice          decimal.Decimal `json:"base_price"`
	ExtrasPrice        decimal.Decimal `json:"extras_price"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	RecurrenceDiscount decimal.Decimal `json:"recurrence_discount"`
	CouponCode         string          `json:"coupon_code,omitempty"`
	CouponDiscount     decimal.Decimal `json:"coupon_discount"`
	ManualDiscount     decimal.Decimal `json:"manual_discount"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
	Currency           string          `json:"currency"`
	MinorUnitsAmount   int64           `json:"minor_units_amount"`
	FloorApplied       bool            `json:"floor_applied"`

	CouponRejection *coupondomain.InvalidError `json:"-"`
}

// CouponRejectionReason is empty when no coupon was rejected.
func (b Breakdown) CouponRejectionReason() string {
	if b.CouponRejection == nil {
		return ""
	}
	return b.CouponRejection.Reason
}

type UnknownServiceError struct {
	ServiceID string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown_service: %q", e.ServiceID)
}

var (
	ErrInvalidRecurrence     = errors.New("invalid_recurrence")
	ErrInvalidManualDiscount = errors.New("invalid_manual_discount")
	ErrBelowFloor            = errors.New("final_amount_below_floor")
)
