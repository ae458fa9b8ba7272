package notification

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"strings"

	"github.com/cockroachdb/errors"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	catalogdomain "github.com/smallbiznis/homeserve/internal/catalog/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/providers/email"
	"github.com/smallbiznis/homeserve/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const dateLayout = "2006-01-02"

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Bookings bookingdomain.Service
	Catalog  catalogdomain.Catalog
	Email    email.Provider
	PDF      pdf.Provider `optional:"true"`
}

// Service sends the customer confirmation for a booking at most once.
type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	businessName string
	bookings     bookingdomain.Service
	catalog      catalogdomain.Catalog
	email        email.Provider
	pdf          pdf.Provider
}

func New(p Params) *Service {
	return &Service{
		log:          p.Log.Named("notification.service"),
		clock:        p.Clock,
		businessName: p.Config.AppName,
		bookings:     p.Bookings,
		catalog:      p.Catalog,
		email:        p.Email,
		pdf:          p.PDF,
	}
}

type confirmationView struct {
	BusinessName     string
	CustomerName     string
	BookingCode      string
	ServiceName      string
	ScheduledDate    string
	ScheduledTime    string
	Recurrence       string
	Extras           string
	Total            string
	Currency         string
	Recurring        bool
	FirstBillingDate string
}

// BookingConfirmed claims the booking's notification slot and emails the
// customer. A booking that was already claimed is skipped without error.
func (s *Service) BookingConfirmed(ctx context.Context, booking *bookingdomain.Booking) error {
	if booking == nil || booking.Status != bookingdomain.StatusConfirmed {
		return nil
	}
	claimed, err := s.bookings.MarkConfirmationNotified(ctx, booking.ID, s.clock.Now())
	if err != nil {
		return errors.Wrap(err, "claim confirmation notification")
	}
	if !claimed {
		return nil
	}

	logger := s.log.With(zap.String("booking_code", booking.BookingCode))
	view := s.view(ctx, booking)

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, "booking_confirmed.html", view); err != nil {
		return errors.Wrap(err, "render confirmation email")
	}

	msg := email.Message{
		To:       []string{booking.CustomerEmail},
		Subject:  "Booking confirmed: " + view.ServiceName + " on " + view.ScheduledDate,
		HTMLBody: body.String(),
	}
	if attachment, ok := s.attachment(ctx, booking, view, logger); ok {
		msg.Attachments = append(msg.Attachments, attachment)
	}

	if err := s.email.Send(ctx, msg); err != nil {
		return errors.Wrapf(err, "send confirmation for %s", booking.BookingCode)
	}
	logger.Info("booking confirmation sent")
	return nil
}

func (s *Service) view(ctx context.Context, booking *bookingdomain.Booking) confirmationView {
	serviceName := booking.ServiceID
	if svc, err := s.catalog.Lookup(ctx, booking.ServiceID); err == nil && svc != nil {
		serviceName = svc.Name
	}
	return confirmationView{
		BusinessName:     s.businessName,
		CustomerName:     booking.CustomerName,
		BookingCode:      booking.BookingCode,
		ServiceName:      serviceName,
		ScheduledDate:    booking.ScheduledDate.Format(dateLayout),
		ScheduledTime:    booking.ScheduledTime,
		Recurrence:       booking.Recurrence,
		Extras:           strings.Join(booking.ExtraKeys(), ", "),
		Total:            booking.FinalAmount.StringFixed(2),
		Currency:         strings.ToUpper(booking.Currency),
		Recurring:        booking.CheckoutMode == "subscription",
		FirstBillingDate: booking.FirstBillingDate.Format(dateLayout),
	}
}

// attachment renders the PDF summary; a rendering failure only drops the
// attachment.
func (s *Service) attachment(ctx context.Context, booking *bookingdomain.Booking, view confirmationView, logger *zap.Logger) (email.Attachment, bool) {
	if s.pdf == nil {
		return email.Attachment{}, false
	}

	lines := []pdf.Line{{Description: view.ServiceName, Amount: booking.BasePrice.StringFixed(2)}}
	if booking.ExtrasPrice.IsPositive() {
		lines = append(lines, pdf.Line{Description: "Extras: " + view.Extras, Amount: booking.ExtrasPrice.StringFixed(2)})
	}
	address := []string{booking.AddressLine1}
	if booking.AddressLine2 != "" {
		address = append(address, booking.AddressLine2)
	}
	address = append(address, booking.City+" "+booking.Postcode)

	data := pdf.BookingConfirmation{
		BusinessName:  view.BusinessName,
		BookingCode:   booking.BookingCode,
		ServiceName:   view.ServiceName,
		ScheduledDate: view.ScheduledDate,
		ScheduledTime: view.ScheduledTime,
		Recurrence:    view.Recurrence,
		CustomerName:  booking.CustomerName,
		CustomerEmail: booking.CustomerEmail,
		Address:       address,
		Lines:         lines,
		Subtotal:      booking.Subtotal.StringFixed(2),
		TotalDiscount: booking.TotalDiscount.StringFixed(2),
		Total:         view.Total,
	}
	if view.Recurring {
		data.FirstBillingOn = view.FirstBillingDate
	}

	doc, err := s.pdf.GenerateBookingConfirmation(ctx, data)
	if err != nil {
		logger.Warn("confirmation pdf not generated", zap.Error(err))
		return email.Attachment{}, false
	}
	if len(doc) == 0 {
		return email.Attachment{}, false
	}
	return email.Attachment{
		Filename:    booking.BookingCode + ".pdf",
		ContentType: "application/pdf",
		Data:        doc,
	}, true
}
