package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	Insert(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) error

	// IncrementUsage consumes one slot only while the coupon is active and
	// below its limit. It reports false when no row qualified.
	IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (bool, error)
	CountCustomerUsages(ctx context.Context, db *gorm.DB, couponID snowflake.ID, customerIdentity string) (int64, error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *Usage) error
	ListUsages(ctx context.Context, db *gorm.DB, couponID snowflake.ID) ([]Usage, error)
}
