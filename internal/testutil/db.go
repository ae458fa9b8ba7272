// Package testutil opens in-memory sqlite databases carrying the service schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB returns an isolated shared-cache database with every table created.
// The pool is capped at one connection so concurrent tests serialize on sqlite
// the way row locks serialize them on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

// Count runs a COUNT query and returns the result.
func Count(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	return count
}

var schema = []string{
	`CREATE TABLE services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		base_price TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE coupons (
		id BIGINT PRIMARY KEY,
		code TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		minimum_amount TEXT NOT NULL DEFAULT '0',
		maximum_discount TEXT,
		usage_limit INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		per_customer_limit INTEGER NOT NULL DEFAULT 0,
		first_time_only BOOLEAN NOT NULL DEFAULT FALSE,
		valid_from DATETIME NOT NULL,
		valid_until DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_coupons_code ON coupons (UPPER(code))`,
	`CREATE TABLE coupon_usages (
		id BIGINT PRIMARY KEY,
		coupon_id BIGINT NOT NULL,
		coupon_code TEXT NOT NULL,
		customer_identity TEXT NOT NULL,
		booking_reference TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_coupon_usages_booking ON coupon_usages (coupon_id, booking_reference)`,
	`CREATE TABLE bookings (
		id BIGINT PRIMARY KEY,
		booking_code TEXT NOT NULL,
		service_id TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		address_line1 TEXT NOT NULL,
		address_line2 TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL,
		postcode TEXT NOT NULL,
		access_instructions TEXT NOT NULL DEFAULT '',
		scheduled_date DATETIME NOT NULL,
		scheduled_time TEXT NOT NULL DEFAULT '',
		recurrence TEXT NOT NULL,
		extras TEXT NOT NULL DEFAULT '',
		base_price TEXT NOT NULL,
		extras_price TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		recurrence_discount TEXT NOT NULL,
		coupon_code TEXT NOT NULL DEFAULT '',
		coupon_discount TEXT NOT NULL,
		manual_discount TEXT NOT NULL,
		total_discount TEXT NOT NULL,
		final_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		checkout_mode TEXT NOT NULL,
		first_billing_date DATETIME NOT NULL,
		next_billing_date DATETIME,
		external_session_id TEXT NOT NULL,
		external_subscription_id TEXT,
		status TEXT NOT NULL,
		referral_code TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		confirmed_at DATETIME,
		failed_at DATETIME,
		cancelled_at DATETIME,
		last_paid_at DATETIME,
		confirmation_notified_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_bookings_booking_code ON bookings (booking_code)`,
	`CREATE UNIQUE INDEX ux_bookings_external_session_id ON bookings (external_session_id)`,
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_webhook_events_provider_event_id ON webhook_events (provider, provider_event_id)`,
	`CREATE TABLE orphaned_sessions (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		session_id TEXT NOT NULL,
		booking_code TEXT NOT NULL,
		reason TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		resolution TEXT NOT NULL DEFAULT '',
		resolved_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_orphaned_sessions_session_id ON orphaned_sessions (provider, session_id)`,
}
