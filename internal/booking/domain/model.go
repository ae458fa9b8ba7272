package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusCancelled
}

type Booking struct {
	ID                 snowflake.ID    `json:"id" gorm:"primaryKey"`
	BookingCode        string          `json:"booking_code" gorm:"type:text;not null;uniqueIndex"`
	ServiceID          string          `json:"service_id" gorm:"type:text;not null"`
	CustomerName       string          `json:"customer_name" gorm:"type:text;not null"`
	CustomerEmail      string          `json:"customer_email" gorm:"type:text;not null"`
	CustomerPhone      string          `json:"customer_phone" gorm:"type:text"`
	AddressLine1       string          `json:"address_line1" gorm:"type:text;not null"`
	AddressLine2       string          `json:"address_line2" gorm:"type:text"`
	City               string          `json:"city" gorm:"type:text;not null"`
	Postcode           string          `json:"postcode" gorm:"type:text;not null"`
	AccessInstructions string          `json:"access_instructions" gorm:"type:text"`
	ScheduledDate      time.Time       `json:"scheduled_date" gorm:"not null"`
	ScheduledTime      string          `json:"scheduled_time" gorm:"type:text"`
	Recurrence         string          `json:"recurrence" gorm:"type:text;not null"`
	Extras             string          `json:"extras" gorm:"type:text"`
	BasePrice          decimal.Decimal `json:"base_price" gorm:"type:numeric(12,2);not null"`
	ExtrasPrice        decimal.Decimal `json:"extras_price" gorm:"type:numeric(12,2);not null"`
	Subtotal           decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	RecurrenceDiscount decimal.Decimal `json:"recurrence_discount" gorm:"type:numeric(12,2);not null"`
	CouponCode         string          `json:"coupon_code" gorm:"type:text"`
	CouponDiscount     decimal.Decimal `json:"coupon_discount" gorm:"type:numeric(12,2);not null"`
	ManualDiscount     decimal.Decimal `json:"manual_discount" gorm:"type:numeric(12,2);not null"`
	TotalDiscount      decimal.Decimal `json:"total_discount" gorm:"type:numeric(12,2);not null"`
	FinalAmount        decimal.Decimal `json:"final_amount" gorm:"type:numeric(12,2);not null"`
	Currency           string          `json:"currency" gorm:"type:text;not null"`
	CheckoutMode       string          `json:"checkout_mode" gorm:"type:text;not null"`
	FirstBillingDate   time.Time       `json:"first_billing_date" gorm:"not null"`
	NextBillingDate    *time.Time      `json:"next_billing_date"`

	ExternalSessionID      string  `json:"external_session_id" gorm:"type:text;not null;uniqueIndex"`
	ExternalSubscriptionID *string `json:"external_subscription_id"`

	Status       Status         `json:"status" gorm:"type:text;not null"`
	ReferralCode *string        `json:"referral_code"`
	Metadata     datatypes.JSON `json:"metadata" gorm:"type:jsonb;not null"`

	ConfirmedAt            *time.Time `json:"confirmed_at"`
	FailedAt               *time.Time `json:"failed_at"`
	CancelledAt            *time.Time `json:"cancelled_at"`
	LastPaidAt             *time.Time `json:"last_paid_at"`
	ConfirmationNotifiedAt *time.Time `json:"confirmation_notified_at"`
	CreatedAt              time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time  `json:"updated_at" gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (b Booking) ExtraKeys() []string {
	if strings.TrimSpace(b.Extras) == "" {
		return nil
	}
	return strings.Split(b.Extras, ",")
}

// CustomerIdentity is the key used for per-customer coupon limits and history.
func CustomerIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
