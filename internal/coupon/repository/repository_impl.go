package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeserve/internal/coupon/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const couponColumns = `id, code, type, value, minimum_amount, maximum_discount, usage_limit, usage_count,
	per_customer_limit, first_time_only, valid_from, valid_until, is_active, created_at, updated_at`

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var item domain.Coupon
	err := db.WithContext(ctx).Raw(
		`SELECT `+couponColumns+`
		 FROM coupons
		 WHERE UPPER(code) = UPPER(?)
		 LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupons (`+couponColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		coupon.ID,
		coupon.Code,
		coupon.Type,
		coupon.Value,
		coupon.MinimumAmount,
		coupon.MaximumDiscount,
		coupon.UsageLimit,
		coupon.UsageCount,
		coupon.PerCustomerLimit,
		coupon.FirstTimeOnly,
		coupon.ValidFrom,
		coupon.ValidUntil,
		coupon.IsActive,
		coupon.CreatedAt,
		coupon.UpdatedAt,
	).Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET is_active = ?, updated_at = ?
		 WHERE id = ?`,
		false,
		updatedAt,
		id,
	).Error
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET usage_count = usage_count + 1, updated_at = ?
		 WHERE id = ?
			AND is_active = ?
			AND (usage_limit = 0 OR usage_count < usage_limit)`,
		updatedAt,
		id,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CountCustomerUsages(ctx context.Context, db *gorm.DB, couponID snowflake.ID, customerIdentity string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM coupon_usages
		 WHERE coupon_id = ? AND customer_identity = ?`,
		couponID,
		customerIdentity,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.Usage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupon_usages (
			id, coupon_id, coupon_code, customer_identity, booking_reference,
			discount_amount, subtotal, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID,
		usage.CouponID,
		usage.CouponCode,
		usage.CustomerIdentity,
		usage.BookingReference,
		usage.DiscountAmount,
		usage.Subtotal,
		usage.CreatedAt,
	).Error
}

func (r *repo) ListUsages(ctx context.Context, db *gorm.DB, couponID snowflake.ID) ([]domain.Usage, error) {
	var items []domain.Usage
	err := db.WithContext(ctx).Raw(
		`SELECT id, coupon_id, coupon_code, customer_identity, booking_reference,
			discount_amount, subtotal, created_at
		 FROM coupon_usages
		 WHERE coupon_id = ?
		 ORDER BY created_at ASC, id ASC`,
		couponID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
