package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ReasonNotFound                = "not_found"
	ReasonNotYetValid             = "not_yet_valid"
	ReasonExpired                 = "expired"
	ReasonBelowMinimum            = "below_minimum"
	ReasonExhausted               = "exhausted"
	ReasonPerCustomerLimitReached = "per_customer_limit_reached"
	ReasonNotFirstTime            = "not_first_time"
	ReasonCustomerRequired        = "customer_required"
)

type Service interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerIdentity string) (ValidationResult, error)
	RegisterUsage(ctx context.Context, tx *gorm.DB, req Redemption) (*Usage, error)
	Create(ctx context.Context, req CreateRequest) (*Coupon, error)
	Deactivate(ctx context.Context, code string) error
	Get(ctx context.Context, code string) (*Coupon, error)
	ListUsages(ctx context.Context, code string) ([]Usage, error)
}

// CustomerHistory reports prior confirmed bookings for first-time-only coupons.
type CustomerHistory interface {
	CountConfirmedBookings(ctx context.Context, customerIdentity string) (int64, error)
}

type ValidationResult struct {
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Coupon         *Coupon         `json:"-"`
}

// Err returns the rejection as an *InvalidError, or nil for a valid result.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &InvalidError{Reason: r.Reason}
}

type Redemption struct {
	Code             string
	CustomerIdentity string
	BookingReference string
	DiscountAmount   decimal.Decimal
	Subtotal         decimal.Decimal
}

type CreateRequest struct {
	Code             string           `json:"code"`
	Type             Type             `json:"type"`
	Value            decimal.Decimal  `json:"value"`
	MinimumAmount    decimal.Decimal  `json:"minimum_amount"`
	MaximumDiscount  *decimal.Decimal `json:"maximum_discount"`
	UsageLimit       int              `json:"usage_limit"`
	PerCustomerLimit int              `json:"per_customer_limit"`
	FirstTimeOnly    bool             `json:"first_time_only"`
	ValidFrom        *time.Time       `json:"valid_from"`
	ValidUntil       *time.Time       `json:"valid_until"`
}

// InvalidError is a non-fatal coupon rejection carried alongside a price.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon_invalid: %s", e.Reason)
}

var (
	ErrInvalidCode          = errors.New("invalid_coupon_code")
	ErrInvalidType          = errors.New("invalid_coupon_type")
	ErrInvalidValue         = errors.New("invalid_coupon_value")
	ErrInvalidLimit         = errors.New("invalid_coupon_limit")
	ErrInvalidWindow        = errors.New("invalid_coupon_window")
	ErrInvalidDiscount      = errors.New("invalid_discount_amount")
	ErrInvalidReference     = errors.New("invalid_booking_reference")
	ErrCouponExists         = errors.New("coupon_exists")
	ErrCouponNotFound       = errors.New("coupon_not_found")
	ErrCouponExhausted      = errors.New("coupon_exhausted")
	ErrCouponCustomerLimit  = errors.New("coupon_customer_limit_reached")
	ErrCouponAlreadyApplied = errors.New("coupon_already_applied")
	ErrCustomerRequired     = errors.New("customer_required")
)
