package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	bookingrepository "github.com/smallbiznis/homeserve/internal/booking/repository"
	bookingservice "github.com/smallbiznis/homeserve/internal/booking/service"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/gateway/adapters/stripe"
	"github.com/smallbiznis/homeserve/internal/testutil"
	"github.com/smallbiznis/homeserve/internal/webhook/domain"
	"github.com/smallbiznis/homeserve/internal/webhook/repository"
	"github.com/smallbiznis/homeserve/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test_secret"

type recordingNotifier struct {
	mu       sync.Mutex
	bookings []string
	err      error
}

func (n *recordingNotifier) BookingConfirmed(ctx context.Context, booking *bookingdomain.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bookings = append(n.bookings, booking.BookingCode)
	return n.err
}

type busyLocker struct{}

func (busyLocker) TryLockEvent(ctx context.Context, provider, eventID string) (string, bool, error) {
	return "", false, nil
}

func (busyLocker) ReleaseEvent(ctx context.Context, provider, eventID, token string) error {
	return nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	bookings bookingdomain.Service
	notifier *recordingNotifier
	svc      domain.Service
}

func newFixture(t *testing.T, locker domain.EventLocker) fixture {
	t.Helper()

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	db := testutil.NewDB(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))

	gateway, err := stripe.New(stripe.Config{
		SecretKey:     "sk_test_unused",
		WebhookSecret: webhookSecret,
		Log:           log,
	})
	require.NoError(t, err)

	bookings := bookingservice.New(bookingservice.Params{
		DB:    db,
		Log:   log,
		Clock: clk,
		Repo:  bookingrepository.Provide(),
	})
	notifier := &recordingNotifier{}
	svc := service.New(service.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Config: config.Config{
			Webhook: config.WebhookConfig{
				NotFoundMaxRetries: 2,
				NotFoundMaxElapsed: 40 * time.Millisecond,
			},
		},
		Repo:     repository.Provide(),
		Gateway:  gateway,
		Bookings: bookings,
		Locker:   locker,
		Notifier: notifier,
	})

	return fixture{db: db, node: node, bookings: bookings, notifier: notifier, svc: svc}
}

func (f fixture) seedBooking(t *testing.T, code, sessionID string) {
	t.Helper()

	err := f.bookings.Create(context.Background(), nil, &bookingdomain.Booking{
		ID:                f.node.Generate(),
		BookingCode:       code,
		ServiceID:         "regular-clean",
		CustomerName:      "Ann Lee",
		CustomerEmail:     "ann@example.com",
		AddressLine1:      "1 High Street",
		City:              "Leeds",
		Postcode:          "LS1 1AA",
		ScheduledDate:     time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
		Recurrence:        "weekly",
		BasePrice:         decimal.NewFromInt(120),
		ExtrasPrice:       decimal.NewFromInt(40),
		Subtotal:          decimal.NewFromInt(160),
		FinalAmount:       decimal.RequireFromString("148.80"),
		Currency:          "usd",
		CheckoutMode:      "subscription",
		FirstBillingDate:  time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC),
		ExternalSessionID: sessionID,
	})
	require.NoError(t, err)
}

func sessionEvent(eventID, eventType, sessionID, bookingCode, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1757000000,
		"data":{"object":{"id":%q,"object":"checkout.session","payment_status":%q,
		"subscription":"sub_42","client_reference_id":%q,"metadata":{"booking_code":%q}}}}`,
		eventID, eventType, sessionID, paymentStatus, bookingCode, bookingCode))
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func TestHandleConfirmsPendingBookingOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedBooking(t, "BK-1", "cs_test_1")

	payload := sessionEvent("evt_1", "checkout.session.completed", "cs_test_1", "BK-1", "paid")
	ack, err := f.svc.Handle(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, ack.Outcome)
	assert.False(t, ack.Duplicate)

	booking, err := f.bookings.FindBySessionID(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	require.NotNil(t, booking.ConfirmedAt)
	require.NotNil(t, booking.ExternalSubscriptionID)
	assert.Equal(t, "sub_42", *booking.ExternalSubscriptionID)
	firstConfirmedAt := *booking.ConfirmedAt

	again, err := f.svc.Handle(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, domain.OutcomeDuplicate, again.Outcome)

	booking, err = f.bookings.FindBySessionID(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	assert.True(t, booking.ConfirmedAt.Equal(firstConfirmedAt))

	assert.Equal(t, []string{"BK-1"}, f.notifier.bookings)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`))
}

func TestHandleRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	f.seedBooking(t, "BK-1", "cs_test_1")

	payload := sessionEvent("evt_1", "checkout.session.completed", "cs_test_1", "BK-1", "paid")
	header := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_someone_else",
		Timestamp: time.Now(),
	}).Header

	_, err := f.svc.Handle(context.Background(), payload, header)

	var sigErr *domain.SignatureError
	require.True(t, errors.As(err, &sigErr), "expected signature error, got %v", err)
	assert.Equal(t, int64(0), testutil.Count(t, f.db, `SELECT COUNT(*) FROM webhook_events`))

	booking, err := f.bookings.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPending, booking.Status)
}

func TestHandleMissingBookingStaysUnprocessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	payload := sessionEvent("evt_2", "checkout.session.completed", "cs_late", "BK-LATE", "paid")
	_, err := f.svc.Handle(ctx, payload, sign(payload))
	require.True(t, errors.Is(err, bookingdomain.ErrBookingNotFound), "expected not found, got %v", err)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NULL`))

	// The gateway redelivers once the booking row exists.
	f.seedBooking(t, "BK-LATE", "cs_late")
	ack, err := f.svc.Handle(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, domain.OutcomeConfirmed, ack.Outcome)
	assert.Equal(t, int64(0), testutil.Count(t, f.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NULL`))
}

func TestHandleFailureEvents(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
	}{
		{name: "expired", eventType: "checkout.session.expired"},
		{name: "async payment failed", eventType: "checkout.session.async_payment_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, nil)
			f.seedBooking(t, "BK-1", "cs_test_1")

			payload := sessionEvent("evt_f", tt.eventType, "cs_test_1", "BK-1", "unpaid")
			ack, err := f.svc.Handle(ctx, payload, sign(payload))
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeFailed, ack.Outcome)

			booking, err := f.bookings.FindBySessionID(ctx, "cs_test_1")
			require.NoError(t, err)
			assert.Equal(t, bookingdomain.StatusFailed, booking.Status)
			assert.NotNil(t, booking.FailedAt)
			assert.Empty(t, f.notifier.bookings)
		})
	}
}

func TestHandleTerminalBookingIgnoresConflictingEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedBooking(t, "BK-1", "cs_test_1")

	completed := sessionEvent("evt_1", "checkout.session.completed", "cs_test_1", "BK-1", "paid")
	_, err := f.svc.Handle(ctx, completed, sign(completed))
	require.NoError(t, err)

	expired := sessionEvent("evt_2", "checkout.session.expired", "cs_test_1", "BK-1", "paid")
	ack, err := f.svc.Handle(ctx, expired, sign(expired))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInvalidTransition, ack.Outcome)

	booking, err := f.bookings.FindBySessionID(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	assert.Nil(t, booking.FailedAt)
	assert.Equal(t, int64(2), testutil.Count(t, f.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`))
}

func TestHandleAwaitingPaymentLeavesBookingPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedBooking(t, "BK-1", "cs_test_1")

	payload := sessionEvent("evt_1", "checkout.session.completed", "cs_test_1", "BK-1", "unpaid")
	ack, err := f.svc.Handle(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, ack.Outcome)

	booking, err := f.bookings.FindBySessionID(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPending, booking.Status)

	succeeded := sessionEvent("evt_2", "checkout.session.async_payment_succeeded", "cs_test_1", "BK-1", "paid")
	ack, err = f.svc.Handle(ctx, succeeded, sign(succeeded))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, ack.Outcome)
}

func TestHandleUnhandledEventIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)

	payload := []byte(`{"id":"evt_c","object":"event","type":"customer.created","created":1757000000,
		"data":{"object":{"id":"cus_1","object":"customer"}}}`)
	ack, err := f.svc.Handle(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, ack.Outcome)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`))
}

func TestHandleInvoicePaidRecordsRenewal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seedBooking(t, "BK-1", "cs_test_1")

	payload := []byte(`{"id":"evt_inv","object":"event","type":"invoice.paid","created":1757600000,
		"data":{"object":{"id":"in_1","object":"invoice",
		"parent":{"subscription_details":{"subscription":"sub_42","metadata":{"booking_code":"BK-1"}}},
		"status_transitions":{"paid_at":1757600000}}}}`)
	ack, err := f.svc.Handle(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, ack.Outcome)

	booking, err := f.bookings.FindByCode(ctx, "BK-1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	require.NotNil(t, booking.LastPaidAt)
	require.NotNil(t, booking.ExternalSubscriptionID)
	assert.Equal(t, "sub_42", *booking.ExternalSubscriptionID)
}

func TestHandleNotificationFailureStillAcknowledges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.notifier.err = errors.New("smtp down")
	f.seedBooking(t, "BK-1", "cs_test_1")

	payload := sessionEvent("evt_1", "checkout.session.completed", "cs_test_1", "BK-1", "paid")
	ack, err := f.svc.Handle(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeConfirmed, ack.Outcome)
}

func TestHandleBusyLockAsksForRedelivery(t *testing.T) {
	f := newFixture(t, busyLocker{})
	f.seedBooking(t, "BK-1", "cs_test_1")

	payload := sessionEvent("evt_1", "checkout.session.completed", "cs_test_1", "BK-1", "paid")
	_, err := f.svc.Handle(context.Background(), payload, sign(payload))
	assert.True(t, errors.Is(err, domain.ErrEventInProgress))

	booking, err := f.bookings.FindBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPending, booking.Status)
}
