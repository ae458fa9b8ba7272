package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

type Coupon struct {
	ID               snowflake.ID        `json:"id" gorm:"primaryKey"`
	Code             string              `json:"code" gorm:"type:text;not null"`
	Type             Type                `json:"type" gorm:"type:text;not null"`
	Value            decimal.Decimal     `json:"value" gorm:"type:numeric(12,2);not null"`
	MinimumAmount    decimal.Decimal     `json:"minimum_amount" gorm:"type:numeric(12,2);not null"`
	MaximumDiscount  decimal.NullDecimal `json:"maximum_discount" gorm:"type:numeric(12,2)"`
	UsageLimit       int                 `json:"usage_limit" gorm:"not null"`
	UsageCount       int                 `json:"usage_count" gorm:"not null"`
	PerCustomerLimit int                 `json:"per_customer_limit" gorm:"not null"`
	FirstTimeOnly    bool                `json:"first_time_only" gorm:"not null"`
	ValidFrom        time.Time           `json:"valid_from" gorm:"not null"`
	ValidUntil       *time.Time          `json:"valid_until"`
	IsActive         bool                `json:"is_active" gorm:"not null"`
	CreatedAt        time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time           `json:"updated_at" gorm:"not null"`
}

func (Coupon) TableName() string { return "coupons" }

// Usage is one consumed redemption slot. Rows are append-only.
type Usage struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	CouponID         snowflake.ID    `json:"coupon_id" gorm:"not null;index"`
	CouponCode       string          `json:"coupon_code" gorm:"type:text;not null"`
	CustomerIdentity string          `json:"customer_identity" gorm:"type:text;not null"`
	BookingReference string          `json:"booking_reference" gorm:"type:text;not null"`
	DiscountAmount   decimal.Decimal `json:"discount_amount" gorm:"type:numeric(12,2);not null"`
	Subtotal         decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
}

func (Usage) TableName() string { return "coupon_usages" }

// Discount computes the coupon discount against subtotal, rounded to cents.
func (c Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch c.Type {
	case TypePercentage:
		amount = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
		if c.MaximumDiscount.Valid && amount.GreaterThan(c.MaximumDiscount.Decimal) {
			amount = c.MaximumDiscount.Decimal
		}
	case TypeFixed:
		amount = decimal.Min(c.Value, subtotal)
	default:
		return decimal.Zero
	}
	amount = amount.Round(2)
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}

// ActiveAt reports the validity window check for now: [valid_from, valid_until).
func (c Coupon) ActiveAt(now time.Time) (bool, string) {
	if now.Before(c.ValidFrom) {
		return false, ReasonNotYetValid
	}
	if c.ValidUntil != nil && !now.Before(*c.ValidUntil) {
		return false, ReasonExpired
	}
	return true, ""
}
