package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// OrphanedSession is a gateway checkout session with no local booking.
type OrphanedSession struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider    string       `json:"provider" gorm:"type:text;not null"`
	SessionID   string       `json:"session_id" gorm:"type:text;not null"`
	BookingCode string       `json:"booking_code" gorm:"type:text;not null"`
	Reason      string       `json:"reason" gorm:"type:text;not null"`
	Attempts    int          `json:"attempts" gorm:"not null"`
	LastError   string       `json:"last_error" gorm:"type:text;not null"`
	Resolution  string       `json:"resolution" gorm:"type:text;not null"`
	ResolvedAt  *time.Time   `json:"resolved_at"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (OrphanedSession) TableName() string { return "orphaned_sessions" }

const (
	ResolutionBookingFound   = "booking_found"
	ResolutionSessionExpired = "session_expired"
	ResolutionSessionClosed  = "session_closed"
)

// RunResult summarizes one reconciliation pass.
type RunResult struct {
	Scanned  int
	Resolved int
	Failed   int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, orphan *OrphanedSession) (bool, error)
	ListUnresolved(ctx context.Context, db *gorm.DB, maxAttempts int, limit int) ([]OrphanedSession, error)
	MarkResolved(ctx context.Context, db *gorm.DB, id snowflake.ID, resolution string, at time.Time) error
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, at time.Time) error
}

var ErrInvalidOrphan = errors.New("invalid_orphaned_session")
