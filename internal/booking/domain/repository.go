package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Booking, error)
	FindByCode(ctx context.Context, db *gorm.DB, bookingCode string) (*Booking, error)

	// UpdateStatus moves a booking from one status to another and reports
	// whether the row was still in the expected status.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, to Status, at time.Time) (bool, error)
	SetSubscriptionID(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, at time.Time) error
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) error
	MarkConfirmationNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	CountByCustomerAndStatus(ctx context.Context, db *gorm.DB, customerEmail string, status Status) (int64, error)
}
