package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	"gorm.io/gorm"
)

type Service interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (*Ack, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

// EventLocker serializes concurrent deliveries of the same event.
type EventLocker interface {
	TryLockEvent(ctx context.Context, provider, eventID string) (string, bool, error)
	ReleaseEvent(ctx context.Context, provider, eventID, token string) error
}

// Notifier is told about every booking that reaches confirmed.
type Notifier interface {
	BookingConfirmed(ctx context.Context, booking *bookingdomain.Booking) error
}

var (
	ErrInvalidEvent    = errors.New("invalid_webhook_event")
	ErrEventInProgress = errors.New("webhook_event_in_progress")
)
