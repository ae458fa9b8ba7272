package notification

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	bookingrepository "github.com/smallbiznis/homeserve/internal/booking/repository"
	bookingservice "github.com/smallbiznis/homeserve/internal/booking/service"
	catalogdomain "github.com/smallbiznis/homeserve/internal/catalog/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/providers/email"
	"github.com/smallbiznis/homeserve/internal/providers/pdf"
	"github.com/smallbiznis/homeserve/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outbox struct {
	sent []email.Message
}

func (o *outbox) Send(ctx context.Context, msg email.Message) error {
	o.sent = append(o.sent, msg)
	return nil
}

type stubPDF struct {
	err error
}

func (p stubPDF) GenerateBookingConfirmation(ctx context.Context, data pdf.BookingConfirmation) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []byte("%PDF-" + data.BookingCode), nil
}

type oneServiceCatalog struct{}

func (oneServiceCatalog) Lookup(ctx context.Context, serviceID string) (*catalogdomain.Service, error) {
	if serviceID != "regular-clean" {
		return nil, nil
	}
	return &catalogdomain.Service{ID: serviceID, Name: "Regular Clean", Active: true}, nil
}

func (oneServiceCatalog) List(ctx context.Context) ([]catalogdomain.Service, error) {
	return nil, nil
}

func newTestService(t *testing.T, renderer pdf.Provider) (*Service, bookingdomain.Service, *outbox, *snowflake.Node) {
	t.Helper()

	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	bookings := bookingservice.New(bookingservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  bookingrepository.Provide(),
	})
	box := &outbox{}
	svc := New(Params{
		Log:      zap.NewNop(),
		Clock:    clk,
		Config:   config.Config{AppName: "Homeserve"},
		Bookings: bookings,
		Catalog:  oneServiceCatalog{},
		Email:    box,
		PDF:      renderer,
	})
	return svc, bookings, box, node
}

func confirmedBooking(t *testing.T, bookings bookingdomain.Service, node *snowflake.Node) *bookingdomain.Booking {
	t.Helper()
	ctx := context.Background()

	err := bookings.Create(ctx, nil, &bookingdomain.Booking{
		ID:                node.Generate(),
		BookingCode:       "BK-1",
		ServiceID:         "regular-clean",
		CustomerName:      "Ann Lee",
		CustomerEmail:     "ann@example.com",
		AddressLine1:      "1 High Street",
		City:              "Leeds",
		Postcode:          "LS1 1AA",
		ScheduledDate:     time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
		ScheduledTime:     "09:30",
		Recurrence:        "weekly",
		Extras:            "carpet,oven",
		BasePrice:         decimal.NewFromInt(120),
		ExtrasPrice:       decimal.NewFromInt(40),
		Subtotal:          decimal.NewFromInt(160),
		TotalDiscount:     decimal.RequireFromString("11.20"),
		FinalAmount:       decimal.RequireFromString("148.80"),
		Currency:          "usd",
		CheckoutMode:      "subscription",
		FirstBillingDate:  time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC),
		ExternalSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	res, err := bookings.Transition(ctx, bookingdomain.TransitionRequest{SessionID: "cs_test_1", To: bookingdomain.StatusConfirmed})
	require.NoError(t, err)
	return res.Booking
}

func TestBookingConfirmedSendsOnce(t *testing.T) {
	svc, bookings, box, node := newTestService(t, stubPDF{})
	booking := confirmedBooking(t, bookings, node)

	require.NoError(t, svc.BookingConfirmed(context.Background(), booking))
	require.NoError(t, svc.BookingConfirmed(context.Background(), booking))

	require.Len(t, box.sent, 1)
	msg := box.sent[0]
	assert.Equal(t, []string{"ann@example.com"}, msg.To)
	assert.Equal(t, "Booking confirmed: Regular Clean on 2025-09-10", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "BK-1")
	assert.Contains(t, msg.HTMLBody, "148.80 USD")
	assert.Contains(t, msg.HTMLBody, "carpet, oven")
	assert.Contains(t, msg.HTMLBody, "2025-09-08")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "BK-1.pdf", msg.Attachments[0].Filename)

	stored, err := bookings.FindByCode(context.Background(), "BK-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.ConfirmationNotifiedAt)
}

func TestBookingConfirmedSkipsPendingBooking(t *testing.T) {
	svc, _, box, _ := newTestService(t, stubPDF{})

	err := svc.BookingConfirmed(context.Background(), &bookingdomain.Booking{BookingCode: "BK-2", Status: bookingdomain.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, box.sent)
}

func TestBookingConfirmedWithoutAttachmentWhenPDFFails(t *testing.T) {
	svc, bookings, box, node := newTestService(t, stubPDF{err: errors.New("font missing")})
	booking := confirmedBooking(t, bookings, node)

	require.NoError(t, svc.BookingConfirmed(context.Background(), booking))
	require.Len(t, box.sent, 1)
	assert.Empty(t, box.sent[0].Attachments)
}
