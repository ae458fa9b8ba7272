package domain

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// CheckoutRequest describes one hosted checkout session with a single line item.
type CheckoutRequest struct {
	Mode               string
	Currency           string
	UnitAmount         int64
	ProductName        string
	ProductDescription string

	// Interval and IntervalCount apply to subscription mode only.
	Interval      string
	IntervalCount int64
	BillingAnchor *time.Time

	CustomerEmail      string
	ClientReferenceID  string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
	IdempotencyKey     string
	CollectAccessNotes bool
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

type EventKind string

const (
	// EventSessionCompleted confirms a booking once payment is settled or not required.
	EventSessionCompleted EventKind = "session_completed"
	// EventSessionAwaitingPayment is a completed session whose payment settles later.
	EventSessionAwaitingPayment EventKind = "session_awaiting_payment"
	EventPaymentSucceeded       EventKind = "payment_succeeded"
	EventPaymentFailed          EventKind = "payment_failed"
	EventSessionExpired         EventKind = "session_expired"
	EventInvoicePaid            EventKind = "invoice_paid"
	EventIgnored                EventKind = "ignored"
)

// Event is a verified gateway notification reduced to what bookings need.
type Event struct {
	ID             string
	Type           string
	Kind           EventKind
	SessionID      string
	SubscriptionID string
	BookingCode    string
	OccurredAt     time.Time
	Payload        []byte
}

type Gateway interface {
	Provider() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ExpireSession(ctx context.Context, sessionID string) error
	// ParseWebhook verifies the signature header before decoding anything.
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidRequest   = errors.New("invalid_session_request")
	ErrSessionNotOpen   = errors.New("session_not_open")
)
