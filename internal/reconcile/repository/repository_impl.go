package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeserve/internal/reconcile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, orphan *domain.OrphanedSession) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO orphaned_sessions (
			id, provider, session_id, booking_code, reason, attempts,
			last_error, resolution, resolved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, '', '', NULL, ?, ?)
		ON CONFLICT (provider, session_id) DO NOTHING`,
		orphan.ID,
		orphan.Provider,
		orphan.SessionID,
		orphan.BookingCode,
		orphan.Reason,
		orphan.CreatedAt,
		orphan.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListUnresolved(ctx context.Context, db *gorm.DB, maxAttempts int, limit int) ([]domain.OrphanedSession, error) {
	var items []domain.OrphanedSession
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, session_id, booking_code, reason, attempts,
			last_error, resolution, resolved_at, created_at, updated_at
		 FROM orphaned_sessions
		 WHERE resolved_at IS NULL AND attempts < ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		maxAttempts,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, resolution string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orphaned_sessions
		 SET resolution = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND resolved_at IS NULL`,
		resolution,
		at,
		at,
		id,
	).Error
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orphaned_sessions
		 SET attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		lastError,
		at,
		id,
	).Error
}
