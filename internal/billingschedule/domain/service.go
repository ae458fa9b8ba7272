package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
)

// AdvanceBilling is how far ahead of the first service the first charge lands,
// leaving a retry window for failed payments.
const AdvanceBilling = 48 * time.Hour

type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

type Interval string

const (
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

type Schedule struct {
	Mode             Mode                     `json:"mode"`
	Recurrence       pricingdomain.Recurrence `json:"recurrence"`
	ServiceDate      time.Time                `json:"service_date"`
	FirstBillingDate time.Time                `json:"first_billing_date"`
	NextBillingDate  *time.Time               `json:"next_billing_date,omitempty"`
	Interval         Interval                 `json:"interval,omitempty"`
	IntervalCount    int64                    `json:"interval_count,omitempty"`

	// BillImmediately is set when the advance date has already passed.
	BillImmediately bool `json:"bill_immediately"`
}

// BillingAnchor is the subscription anchor to send to the gateway, if any.
func (s Schedule) BillingAnchor() *time.Time {
	if s.Mode != ModeSubscription || s.BillImmediately {
		return nil
	}
	anchor := s.FirstBillingDate
	return &anchor
}

type Planner interface {
	Plan(serviceDate time.Time, recurrence pricingdomain.Recurrence) (Schedule, error)
}

var (
	ErrInvalidServiceDate = errors.New("invalid_service_date")
	ErrInvalidRecurrence  = errors.New("unsupported_billing_recurrence")
)
