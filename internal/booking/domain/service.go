package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type Service interface {
	// Create inserts a pending booking on the caller's transaction.
	Create(ctx context.Context, tx *gorm.DB, booking *Booking) error
	FindBySessionID(ctx context.Context, sessionID string) (*Booking, error)
	FindByCode(ctx context.Context, bookingCode string) (*Booking, error)
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	RecordPayment(ctx context.Context, bookingCode string, paidAt time.Time) (*Booking, error)
	MarkConfirmationNotified(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	CountConfirmedBookings(ctx context.Context, customerIdentity string) (int64, error)
}

// TransitionRequest locates a booking by session id or, failing that, by code.
type TransitionRequest struct {
	SessionID      string
	BookingCode    string
	To             Status
	SubscriptionID string
	At             time.Time
}

type TransitionResult struct {
	Booking *Booking
	Changed bool
}

var (
	ErrBookingNotFound   = errors.New("booking_not_found")
	ErrBookingExists     = errors.New("booking_exists")
	ErrInvalidBooking    = errors.New("invalid_booking")
	ErrInvalidStatus     = errors.New("invalid_booking_status")
	ErrInvalidTransition = errors.New("invalid_booking_transition")
)
