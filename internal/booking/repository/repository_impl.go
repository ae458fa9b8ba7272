package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeserve/internal/booking/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const bookingColumns = `id, booking_code, service_id, customer_name, customer_email, customer_phone,
	address_line1, address_line2, city, postcode, access_instructions,
	scheduled_date, scheduled_time, recurrence, extras,
	base_price, extras_price, subtotal, recurrence_discount, coupon_code, coupon_discount,
	manual_discount, total_discount, final_amount, currency, checkout_mode,
	first_billing_date, next_billing_date, external_session_id, external_subscription_id,
	status, referral_code, metadata, confirmed_at, failed_at, cancelled_at, last_paid_at,
	confirmation_notified_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.BookingCode,
		b.ServiceID,
		b.CustomerName,
		b.CustomerEmail,
		b.CustomerPhone,
		b.AddressLine1,
		b.AddressLine2,
		b.City,
		b.Postcode,
		b.AccessInstructions,
		b.ScheduledDate,
		b.ScheduledTime,
		b.Recurrence,
		b.Extras,
		b.BasePrice,
		b.ExtrasPrice,
		b.Subtotal,
		b.RecurrenceDiscount,
		b.CouponCode,
		b.CouponDiscount,
		b.ManualDiscount,
		b.TotalDiscount,
		b.FinalAmount,
		b.Currency,
		b.CheckoutMode,
		b.FirstBillingDate,
		b.NextBillingDate,
		b.ExternalSessionID,
		b.ExternalSubscriptionID,
		b.Status,
		b.ReferralCode,
		b.Metadata,
		b.ConfirmedAt,
		b.FailedAt,
		b.CancelledAt,
		b.LastPaidAt,
		b.ConfirmationNotifiedAt,
		b.CreatedAt,
		b.UpdatedAt,
	).Error
}

func (r *repo) FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Booking, error) {
	return r.findOne(ctx, db, "external_session_id", sessionID)
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, bookingCode string) (*domain.Booking, error) {
	return r.findOne(ctx, db, "booking_code", bookingCode)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, column string, value string) (*domain.Booking, error) {
	var item domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE `+column+` = ?
		 LIMIT 1`,
		value,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func statusTimestampColumn(status domain.Status) (string, error) {
	switch status {
	case domain.StatusConfirmed:
		return "confirmed_at", nil
	case domain.StatusFailed:
		return "failed_at", nil
	case domain.StatusCancelled:
		return "cancelled_at", nil
	default:
		return "", domain.ErrInvalidStatus
	}
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.Status, to domain.Status, at time.Time) (bool, error) {
	column, err := statusTimestampColumn(to)
	if err != nil {
		return false, err
	}
	res := db.WithContext(ctx).Exec(
		fmt.Sprintf(
			`UPDATE bookings
			 SET status = ?, %s = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			column,
		),
		to,
		at,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) SetSubscriptionID(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET external_subscription_id = ?, updated_at = ?
		 WHERE id = ? AND external_subscription_id IS NULL`,
		subscriptionID,
		at,
		id,
	).Error
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET last_paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		paidAt,
		paidAt,
		id,
	).Error
}

func (r *repo) MarkConfirmationNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET confirmation_notified_at = ?
		 WHERE id = ? AND confirmation_notified_at IS NULL`,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CountByCustomerAndStatus(ctx context.Context, db *gorm.DB, customerEmail string, status domain.Status) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM bookings
		 WHERE LOWER(customer_email) = ? AND status = ?`,
		customerEmail,
		status,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
