package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	gatewaydomain "github.com/smallbiznis/homeserve/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	"github.com/smallbiznis/homeserve/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxInitialRetryInterval = 100 * time.Millisecond
	releaseTimeout          = 2 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	Gateway    gatewaydomain.Gateway
	Bookings   bookingdomain.Service
	Locker     domain.EventLocker  `optional:"true"`
	Notifier   domain.Notifier     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateway    gatewaydomain.Gateway
	bookings   bookingdomain.Service
	locker     domain.EventLocker
	notifier   domain.Notifier
	obsMetrics *obsmetrics.Metrics

	maxRetries uint64
	maxElapsed time.Duration
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		bookings:   p.Bookings,
		locker:     p.Locker,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
		maxRetries: p.Config.Webhook.NotFoundMaxRetries,
		maxElapsed: p.Config.Webhook.NotFoundMaxElapsed,
	}
}

// Handle verifies, deduplicates and applies one gateway delivery. A nil error
// means the gateway may stop retrying.
func (s *Service) Handle(ctx context.Context, payload []byte, signatureHeader string) (*domain.Ack, error) {
	provider := s.gateway.Provider()
	event, err := s.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrInvalidSignature) {
			s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
			s.recordMetric(ctx, provider, "unknown", "invalid_signature")
			return nil, &domain.SignatureError{Err: err}
		}
		if errors.Is(err, gatewaydomain.ErrInvalidPayload) {
			return nil, errors.Mark(err, domain.ErrInvalidEvent)
		}
		return nil, err
	}

	logger := s.log.With(
		zap.String("provider", provider),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
	)

	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		SessionID:       event.SessionID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return nil, errors.Wrap(err, "record webhook event")
	}

	token, locked, err := s.lock(ctx, provider, event.ID, logger)
	if err != nil {
		return nil, err
	}
	if locked {
		defer s.release(ctx, provider, event.ID, token, logger)
	}

	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, event.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			logger.Info("duplicate webhook delivery acknowledged")
			s.recordMetric(ctx, provider, event.Type, domain.OutcomeDuplicate)
			return &domain.Ack{
				EventID:   event.ID,
				EventType: event.Type,
				Outcome:   domain.OutcomeDuplicate,
				Duplicate: true,
			}, nil
		}
	}

	outcome, err := s.dispatch(ctx, event, logger)
	if err != nil {
		s.recordMetric(ctx, provider, event.Type, "error")
		return nil, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return nil, errors.Wrap(err, "mark webhook event processed")
	}
	s.recordMetric(ctx, provider, event.Type, outcome)
	logger.Info("webhook event processed", zap.String("outcome", outcome))

	return &domain.Ack{EventID: event.ID, EventType: event.Type, Outcome: outcome}, nil
}

func (s *Service) dispatch(ctx context.Context, event *gatewaydomain.Event, logger *zap.Logger) (string, error) {
	switch event.Kind {
	case gatewaydomain.EventSessionCompleted, gatewaydomain.EventPaymentSucceeded:
		outcome, _, err := s.transition(ctx, event, bookingdomain.StatusConfirmed, logger)
		return outcome, err
	case gatewaydomain.EventPaymentFailed, gatewaydomain.EventSessionExpired:
		outcome, _, err := s.transition(ctx, event, bookingdomain.StatusFailed, logger)
		return outcome, err
	case gatewaydomain.EventInvoicePaid:
		return s.invoicePaid(ctx, event, logger)
	default:
		return domain.OutcomeIgnored, nil
	}
}

// invoicePaid confirms the booking behind a subscription charge if the
// session event has not done so yet, then stamps the payment.
func (s *Service) invoicePaid(ctx context.Context, event *gatewaydomain.Event, logger *zap.Logger) (string, error) {
	if event.BookingCode == "" && event.SessionID == "" {
		logger.Warn("invoice event carries no booking reference", zap.String("subscription_id", event.SubscriptionID))
		return domain.OutcomeIgnored, nil
	}
	outcome, booking, err := s.transition(ctx, event, bookingdomain.StatusConfirmed, logger)
	if err != nil || booking == nil {
		return outcome, err
	}
	if _, err := s.bookings.RecordPayment(ctx, booking.BookingCode, event.OccurredAt); err != nil {
		return "", errors.Wrap(err, "record subscription payment")
	}
	return outcome, nil
}

func (s *Service) transition(
	ctx context.Context,
	event *gatewaydomain.Event,
	to bookingdomain.Status,
	logger *zap.Logger,
) (string, *bookingdomain.Booking, error) {
	req := bookingdomain.TransitionRequest{
		SessionID:      event.SessionID,
		BookingCode:    event.BookingCode,
		To:             to,
		SubscriptionID: event.SubscriptionID,
	}

	var result *bookingdomain.TransitionResult
	op := func() error {
		res, err := s.bookings.Transition(ctx, req)
		switch {
		case err == nil:
			result = res
			return nil
		case errors.Is(err, bookingdomain.ErrBookingNotFound):
			return err
		case errors.Is(err, bookingdomain.ErrInvalidTransition):
			result = res
			return backoff.Permanent(err)
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		logger.Info("booking not found yet, retrying",
			zap.String("session_id", event.SessionID),
			zap.Duration("wait", wait),
		)
	}

	err := backoff.RetryNotify(op, s.retryPolicy(ctx), notify)
	switch {
	case errors.Is(err, bookingdomain.ErrInvalidTransition):
		from := ""
		if result != nil && result.Booking != nil {
			from = string(result.Booking.Status)
		}
		logger.Warn("booking transition ignored",
			zap.String("session_id", event.SessionID),
			zap.String("from", from),
			zap.String("to", string(to)),
		)
		return domain.OutcomeInvalidTransition, nil, nil
	case errors.Is(err, bookingdomain.ErrBookingNotFound):
		logger.Warn("no booking for webhook event, leaving it for redelivery",
			zap.String("session_id", event.SessionID),
			zap.String("booking_code", event.BookingCode),
		)
		return "", nil, err
	case err != nil:
		return "", nil, errors.Wrap(err, "transition booking")
	}

	booking := result.Booking
	if to == bookingdomain.StatusConfirmed {
		s.notify(ctx, booking, logger)
	}
	if !result.Changed {
		return domain.OutcomeUnchanged, booking, nil
	}
	if to == bookingdomain.StatusConfirmed {
		return domain.OutcomeConfirmed, booking, nil
	}
	return domain.OutcomeFailed, booking, nil
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = maxInitialRetryInterval
	b.MaxElapsedTime = s.maxElapsed
	if s.maxElapsed > 0 && s.maxElapsed/4 < b.InitialInterval {
		b.InitialInterval = s.maxElapsed / 4
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx)
}

// notify failures never fail the event; the booking is already confirmed.
func (s *Service) notify(ctx context.Context, booking *bookingdomain.Booking, logger *zap.Logger) {
	if s.notifier == nil || booking == nil || booking.ConfirmationNotifiedAt != nil {
		return
	}
	if err := s.notifier.BookingConfirmed(ctx, booking); err != nil {
		logger.Error("booking confirmation notification failed",
			zap.String("booking_code", booking.BookingCode),
			zap.Error(err),
		)
	}
}

func (s *Service) lock(ctx context.Context, provider, eventID string, logger *zap.Logger) (string, bool, error) {
	if s.locker == nil {
		return "", false, nil
	}
	token, ok, err := s.locker.TryLockEvent(ctx, provider, eventID)
	if err != nil {
		logger.Warn("webhook lock unavailable, continuing unlocked", zap.Error(err))
		return "", false, nil
	}
	if !ok {
		return "", false, domain.ErrEventInProgress
	}
	return token, token != "", nil
}

func (s *Service) release(ctx context.Context, provider, eventID, token string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.locker.ReleaseEvent(ctx, provider, eventID, token); err != nil {
		logger.Warn("webhook lock release failed", zap.Error(err))
	}
}

func (s *Service) recordMetric(ctx context.Context, provider, eventType, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, eventType, outcome)
	}
}
