package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/homeserve/internal/booking/repository"
	bookingservice "github.com/smallbiznis/homeserve/internal/booking/service"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	gatewaydomain "github.com/smallbiznis/homeserve/internal/gateway/domain"
	"github.com/smallbiznis/homeserve/internal/reconcile/domain"
	"github.com/smallbiznis/homeserve/internal/reconcile/repository"
	"github.com/smallbiznis/homeserve/internal/reconcile/service"
	"github.com/smallbiznis/homeserve/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) Provider() string { return "stripe" }

func (m *gatewayMock) CreateCheckoutSession(ctx context.Context, req gatewaydomain.CheckoutRequest) (*gatewaydomain.CheckoutSession, error) {
	args := m.Called(ctx, req)
	session, _ := args.Get(0).(*gatewaydomain.CheckoutSession)
	return session, args.Error(1)
}

func (m *gatewayMock) ExpireSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *gatewayMock) ParseWebhook(payload []byte, signatureHeader string) (*gatewaydomain.Event, error) {
	args := m.Called(payload, signatureHeader)
	event, _ := args.Get(0).(*gatewaydomain.Event)
	return event, args.Error(1)
}

type fixture struct {
	svc      *service.Service
	db       *gorm.DB
	node     *snowflake.Node
	gateway  *gatewayMock
	bookings bookingdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(fixedNow)
	bookings := bookingservice.New(bookingservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  bookingrepo.Provide(),
	})
	gw := new(gatewayMock)

	cfg := config.Config{}
	cfg.Reconcile.BatchSize = 10

	svc := service.New(service.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Repo:     repository.Provide(),
		Gateway:  gw,
		Bookings: bookings,
	})
	return &fixture{svc: svc, db: db, node: node, gateway: gw, bookings: bookings}
}

func (f *fixture) orphan(t *testing.T, sessionID string) domain.OrphanedSession {
	t.Helper()

	var row domain.OrphanedSession
	if err := f.db.Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("load orphan %s: %v", sessionID, err)
	}
	return row
}

func (f *fixture) createBooking(t *testing.T, code, sessionID string) {
	t.Helper()

	booking := &bookingdomain.Booking{
		ID:                 f.node.Generate(),
		BookingCode:        code,
		ServiceID:          "regular-clean",
		CustomerName:       "Ann Example",
		CustomerEmail:      "ann@example.com",
		AddressLine1:       "1 High Street",
		City:               "Leeds",
		Postcode:           "LS1 1AA",
		ScheduledDate:      time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
		Recurrence:         "one-time",
		BasePrice:          decimal.NewFromInt(120),
		ExtrasPrice:        decimal.Zero,
		Subtotal:           decimal.NewFromInt(120),
		RecurrenceDiscount: decimal.Zero,
		CouponDiscount:     decimal.Zero,
		ManualDiscount:     decimal.Zero,
		TotalDiscount:      decimal.Zero,
		FinalAmount:        decimal.NewFromInt(120),
		Currency:           "usd",
		CheckoutMode:       "payment",
		FirstBillingDate:   time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
		ExternalSessionID:  sessionID,
	}
	if err := f.bookings.Create(context.Background(), f.db, booking); err != nil {
		t.Fatalf("create booking: %v", err)
	}
}

func TestRecordOrphanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.RecordOrphan(ctx, "Stripe", "cs_1", "BK-1", "coupon_unavailable"))
	require.NoError(t, f.svc.RecordOrphan(ctx, "stripe", "cs_1", "BK-1", "persistence_failed"))

	assert.Equal(t, int64(1), testutil.Count(t, f.db, "SELECT COUNT(*) FROM orphaned_sessions"))
	row := f.orphan(t, "cs_1")
	assert.Equal(t, "stripe", row.Provider)
	assert.Equal(t, "coupon_unavailable", row.Reason)
	assert.Nil(t, row.ResolvedAt)
}

func TestRecordOrphanRequiresSession(t *testing.T) {
	err := newFixture(t).svc.RecordOrphan(context.Background(), "stripe", " ", "BK-1", "persistence_failed")
	assert.ErrorIs(t, err, domain.ErrInvalidOrphan)
}

func TestRunOnceExpiresOpenSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.RecordOrphan(ctx, "stripe", "cs_open", "BK-1", "persistence_failed"))
	require.NoError(t, f.svc.RecordOrphan(ctx, "stripe", "cs_closed", "BK-2", "persistence_failed"))
	f.gateway.On("ExpireSession", mock.Anything, "cs_open").Return(nil).Once()
	f.gateway.On("ExpireSession", mock.Anything, "cs_closed").Return(gatewaydomain.ErrSessionNotOpen).Once()

	result, err := f.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunResult{Scanned: 2, Resolved: 2}, result)

	open := f.orphan(t, "cs_open")
	require.NotNil(t, open.ResolvedAt)
	assert.Equal(t, domain.ResolutionSessionExpired, open.Resolution)
	assert.Equal(t, domain.ResolutionSessionClosed, f.orphan(t, "cs_closed").Resolution)
	f.gateway.AssertExpectations(t)

	// resolved rows are not picked up again
	result, err = f.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
}

func TestRunOnceResolvesWhenBookingExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.RecordOrphan(ctx, "stripe", "cs_late", "BK-LATE", "persistence_failed"))
	f.createBooking(t, "BK-LATE", "cs_late")

	result, err := f.svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, domain.ResolutionBookingFound, f.orphan(t, "cs_late").Resolution)
	f.gateway.AssertNotCalled(t, "ExpireSession", mock.Anything, mock.Anything)
}

func TestRunOnceRecordsGatewayFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.RecordOrphan(ctx, "stripe", "cs_flaky", "BK-3", "persistence_failed"))
	f.gateway.On("ExpireSession", mock.Anything, "cs_flaky").Return(errors.New("stripe unavailable")).Twice()

	for i := 0; i < 2; i++ {
		result, err := f.svc.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.RunResult{Scanned: 1, Failed: 1}, result)
	}

	row := f.orphan(t, "cs_flaky")
	assert.Nil(t, row.ResolvedAt)
	assert.Equal(t, 2, row.Attempts)
	assert.Contains(t, row.LastError, "stripe unavailable")
}
