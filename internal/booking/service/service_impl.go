package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeserve/internal/booking/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	"github.com/smallbiznis/homeserve/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("booking.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, tx *gorm.DB, booking *domain.Booking) error {
	if tx == nil {
		tx = s.db
	}
	if err := validateBooking(booking); err != nil {
		return err
	}
	booking.CustomerEmail = domain.CustomerIdentity(booking.CustomerEmail)
	booking.Status = domain.StatusPending
	if len(booking.Metadata) == 0 {
		booking.Metadata = datatypes.JSON([]byte("{}"))
	}
	now := s.clock.Now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	if err := s.repo.Insert(ctx, tx, booking); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrBookingExists
		}
		return err
	}
	return nil
}

func validateBooking(b *domain.Booking) error {
	if b == nil || b.ID == 0 {
		return domain.ErrInvalidBooking
	}
	if strings.TrimSpace(b.BookingCode) == "" || strings.TrimSpace(b.ExternalSessionID) == "" {
		return domain.ErrInvalidBooking
	}
	if strings.TrimSpace(b.ServiceID) == "" || strings.TrimSpace(b.CustomerEmail) == "" {
		return domain.ErrInvalidBooking
	}
	if b.ScheduledDate.IsZero() || b.FirstBillingDate.IsZero() {
		return domain.ErrInvalidBooking
	}
	if b.FinalAmount.IsNegative() || b.CouponDiscount.GreaterThan(b.Subtotal) {
		return domain.ErrInvalidBooking
	}
	return nil
}

func (s *Service) FindBySessionID(ctx context.Context, sessionID string) (*domain.Booking, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrBookingNotFound
	}
	booking, err := s.repo.FindBySessionID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *Service) FindByCode(ctx context.Context, bookingCode string) (*domain.Booking, error) {
	bookingCode = strings.TrimSpace(bookingCode)
	if bookingCode == "" {
		return nil, domain.ErrBookingNotFound
	}
	booking, err := s.repo.FindByCode(ctx, s.db, bookingCode)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *Service) locate(ctx context.Context, sessionID, bookingCode string) (*domain.Booking, error) {
	if strings.TrimSpace(sessionID) != "" {
		booking, err := s.repo.FindBySessionID(ctx, s.db, strings.TrimSpace(sessionID))
		if err != nil || booking != nil {
			return booking, err
		}
	}
	if strings.TrimSpace(bookingCode) != "" {
		return s.repo.FindByCode(ctx, s.db, strings.TrimSpace(bookingCode))
	}
	return nil, nil
}

// Transition applies a forward-only status change. Repeating the transition a
// booking already went through is a no-op with Changed=false; any other move
// out of a terminal status is ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, req domain.TransitionRequest) (*domain.TransitionResult, error) {
	if !req.To.IsTerminal() {
		return nil, domain.ErrInvalidStatus
	}
	booking, err := s.locate(ctx, req.SessionID, req.BookingCode)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}

	at := req.At
	if at.IsZero() {
		at = s.clock.Now()
	}

	changed := false
	if booking.Status == domain.StatusPending {
		changed, err = s.repo.UpdateStatus(ctx, s.db, booking.ID, domain.StatusPending, req.To, at)
		if err != nil {
			return nil, err
		}
	}
	if subscriptionID := strings.TrimSpace(req.SubscriptionID); subscriptionID != "" {
		if err := s.repo.SetSubscriptionID(ctx, s.db, booking.ID, subscriptionID, at); err != nil {
			return nil, err
		}
	}

	current, err := s.repo.FindByCode(ctx, s.db, booking.BookingCode)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrBookingNotFound
	}
	result := &domain.TransitionResult{Booking: current, Changed: changed}

	if !changed && current.Status != req.To {
		s.log.Warn("booking transition rejected",
			zap.String("booking_code", current.BookingCode),
			zap.String("from", string(current.Status)),
			zap.String("to", string(req.To)),
		)
		return result, domain.ErrInvalidTransition
	}

	if changed {
		s.log.Info("booking transitioned",
			zap.String("booking_code", current.BookingCode),
			zap.String("status", string(req.To)),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordBookingTransition(ctx, string(req.To))
		}
	}
	return result, nil
}

// RecordPayment stamps a renewal charge on a subscription booking.
func (s *Service) RecordPayment(ctx context.Context, bookingCode string, paidAt time.Time) (*domain.Booking, error) {
	booking, err := s.FindByCode(ctx, bookingCode)
	if err != nil {
		return nil, err
	}
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	if err := s.repo.MarkPaid(ctx, s.db, booking.ID, paidAt); err != nil {
		return nil, err
	}
	booking.LastPaidAt = &paidAt
	return booking, nil
}

func (s *Service) MarkConfirmationNotified(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	return s.repo.MarkConfirmationNotified(ctx, s.db, id, at)
}

func (s *Service) CountConfirmedBookings(ctx context.Context, customerIdentity string) (int64, error) {
	identity := domain.CustomerIdentity(customerIdentity)
	if identity == "" {
		return 0, nil
	}
	return s.repo.CountByCustomerAndStatus(ctx, s.db, identity, domain.StatusConfirmed)
}
