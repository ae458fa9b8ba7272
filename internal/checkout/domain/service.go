package domain

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/homeserve/internal/billingschedule/domain"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
)

type Service interface {
	CreateCheckout(ctx context.Context, req BookingRequest) (*Result, error)
	Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error)
}

// OrphanRecorder keeps gateway sessions that have no local booking so they can
// be reconciled later.
type OrphanRecorder interface {
	RecordOrphan(ctx context.Context, provider, sessionID, bookingCode, reason string) error
}

// BookingRequest is everything a customer submits to start a checkout.
// Dates use YYYY-MM-DD and times HH:MM.
type BookingRequest struct {
	ServiceID          string   `json:"service_id" validate:"required,max=64"`
	Extras             []string `json:"extras" validate:"omitempty,max=20,dive,max=64"`
	Recurrence         string   `json:"recurrence" validate:"omitempty,oneof=one-time weekly fortnightly monthly"`
	ScheduledDate      string   `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	ScheduledTime      string   `json:"scheduled_time" validate:"omitempty,datetime=15:04"`
	CustomerName       string   `json:"customer_name" validate:"required,max=200"`
	CustomerEmail      string   `json:"customer_email" validate:"required,email,max=254"`
	CustomerPhone      string   `json:"customer_phone" validate:"omitempty,max=40"`
	AddressLine1       string   `json:"address_line1" validate:"required,max=200"`
	AddressLine2       string   `json:"address_line2" validate:"omitempty,max=200"`
	City               string   `json:"city" validate:"required,max=100"`
	Postcode           string   `json:"postcode" validate:"required,max=20"`
	AccessInstructions string   `json:"access_instructions" validate:"omitempty,max=1000"`
	CouponCode         string   `json:"coupon_code" validate:"omitempty,max=64"`
	ReferralCode       string   `json:"referral_code" validate:"omitempty,max=64"`

	// ManualDiscount is set by trusted callers only; it is never bound from JSON.
	ManualDiscount decimal.Decimal `json:"-"`
}

type QuoteRequest struct {
	ServiceID     string   `json:"service_id" validate:"required,max=64"`
	Extras        []string `json:"extras" validate:"omitempty,max=20,dive,max=64"`
	Recurrence    string   `json:"recurrence" validate:"omitempty,oneof=one-time weekly fortnightly monthly"`
	ScheduledDate string   `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	CouponCode    string   `json:"coupon_code" validate:"omitempty,max=64"`
	CustomerEmail string   `json:"customer_email" validate:"omitempty,email,max=254"`

	ManualDiscount decimal.Decimal `json:"-"`
}

// Result carries the rejection reason of a coupon that was dropped from the
// price; the checkout itself still goes ahead.
type Result struct {
	SessionID       string                   `json:"session_id"`
	CheckoutURL     string                   `json:"checkout_url"`
	BookingCode     string                   `json:"booking_code"`
	Breakdown       *pricingdomain.Breakdown `json:"breakdown"`
	Schedule        billingdomain.Schedule   `json:"schedule"`
	CouponRejection string                   `json:"coupon_rejection,omitempty"`
}

type QuoteResult struct {
	Breakdown       *pricingdomain.Breakdown `json:"breakdown"`
	Schedule        *billingdomain.Schedule  `json:"schedule,omitempty"`
	CouponRejection string                   `json:"coupon_rejection,omitempty"`
}

// GatewayError is a failed gateway call. Nothing was persisted.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// PersistenceError is a local write failure after the gateway session was
// created. The session is recorded for reconciliation.
type PersistenceError struct {
	SessionID   string
	BookingCode string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist booking %s for session %s: %v", e.BookingCode, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var (
	ErrInvalidRequest     = errors.New("invalid_checkout_request")
	ErrServiceDateInPast  = errors.New("service_date_in_past")
	ErrCheckoutNotAllowed = errors.New("checkout_amount_not_allowed")
)
