package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	billingdomain "github.com/smallbiznis/homeserve/internal/billingschedule/domain"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	"github.com/smallbiznis/homeserve/internal/checkout/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	coupondomain "github.com/smallbiznis/homeserve/internal/coupon/domain"
	gatewaydomain "github.com/smallbiznis/homeserve/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	"github.com/smallbiznis/homeserve/internal/observability/tracing"
	pricingdomain "github.com/smallbiznis/homeserve/internal/pricing/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	dateLayout             = "2006-01-02"
	bookingCodePlaceholder = "{BOOKING_CODE}"
	defaultGatewayTimeout  = 20 * time.Second
	orphanRecordTimeout    = 5 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Calculator pricingdomain.Calculator
	Planner    billingdomain.Planner
	Gateway    gatewaydomain.Gateway
	Bookings   bookingdomain.Service
	Coupons    coupondomain.Service
	Orphans    domain.OrphanRecorder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	calculator     pricingdomain.Calculator
	planner        billingdomain.Planner
	gateway        gatewaydomain.Gateway
	bookings       bookingdomain.Service
	coupons        coupondomain.Service
	orphans        domain.OrphanRecorder
	obsMetrics     *obsmetrics.Metrics
	validate       *validator.Validate
	tracer         trace.Tracer
	successURL     string
	cancelURL      string
	gatewayTimeout time.Duration
}

func New(p Params) domain.Service {
	timeout := p.Config.Checkout.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("checkout.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		calculator:     p.Calculator,
		planner:        p.Planner,
		gateway:        p.Gateway,
		bookings:       p.Bookings,
		coupons:        p.Coupons,
		orphans:        p.Orphans,
		obsMetrics:     p.ObsMetrics,
		validate:       newValidator(),
		tracer:         otel.Tracer("homeserve/checkout"),
		successURL:     strings.TrimSpace(p.Config.Stripe.SuccessURL),
		cancelURL:      strings.TrimSpace(p.Config.Stripe.CancelURL),
		gatewayTimeout: timeout,
	}
}

// CreateCheckout prices the request, opens a hosted checkout session and
// persists the pending booking with its coupon redemption in one transaction.
func (s *Service) CreateCheckout(ctx context.Context, req domain.BookingRequest) (*domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateCheckout")
	defer span.End()

	result, err := s.createCheckout(ctx, span, req)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "checkout failed")
	}
	return result, err
}

func (s *Service) createCheckout(ctx context.Context, span trace.Span, req domain.BookingRequest) (*domain.Result, error) {
	normalizeBookingRequest(&req)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "validate booking request"), domain.ErrInvalidRequest)
	}
	serviceDate, err := s.parseServiceDate(req.ScheduledDate)
	if err != nil {
		return nil, err
	}

	customer := bookingdomain.CustomerIdentity(req.CustomerEmail)
	breakdown, err := s.calculator.Calculate(ctx, pricingdomain.Request{
		ServiceID:        req.ServiceID,
		Extras:           req.Extras,
		Recurrence:       req.Recurrence,
		ManualDiscount:   req.ManualDiscount,
		CouponCode:       req.CouponCode,
		CustomerIdentity: customer,
	})
	if err != nil {
		return nil, err
	}

	schedule, err := s.planner.Plan(serviceDate, breakdown.Recurrence)
	if err != nil {
		return nil, err
	}
	if schedule.Mode == billingdomain.ModePayment && breakdown.MinorUnitsAmount <= 0 {
		return nil, errors.WithHint(domain.ErrCheckoutNotAllowed, "one-time checkouts need a positive amount")
	}

	bookingCode := s.newBookingCode()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("booking_code", bookingCode),
		attribute.String("checkout.mode", string(schedule.Mode)),
		attribute.String("recurrence", string(breakdown.Recurrence)),
	)...)
	logger := s.log.With(zap.String("booking_code", bookingCode))

	metadata := domain.SessionMetadata{
		BookingCode:        bookingCode,
		ServiceID:          breakdown.ServiceID,
		CustomerName:       req.CustomerName,
		CustomerEmail:      customer,
		CustomerPhone:      req.CustomerPhone,
		AddressLine1:       req.AddressLine1,
		AddressLine2:       req.AddressLine2,
		City:               req.City,
		Postcode:           req.Postcode,
		ScheduledDate:      serviceDate.Format(dateLayout),
		ScheduledTime:      req.ScheduledTime,
		Recurrence:         string(breakdown.Recurrence),
		Extras:             strings.Join(breakdown.Extras, ","),
		RecurrenceDiscount: breakdown.RecurrenceDiscount.StringFixed(2),
		ManualDiscount:     breakdown.ManualDiscount.StringFixed(2),
		FinalAmount:        breakdown.FinalAmount.StringFixed(2),
		FirstBillingDate:   schedule.FirstBillingDate.Format(time.RFC3339),
		ReferralCode:       req.ReferralCode,
	}
	if breakdown.CouponDiscount.IsPositive() {
		metadata.CouponCode = breakdown.CouponCode
		metadata.CouponDiscount = breakdown.CouponDiscount.StringFixed(2)
	}

	gatewayReq := gatewaydomain.CheckoutRequest{
		Mode:               string(schedule.Mode),
		Currency:           breakdown.Currency,
		UnitAmount:         breakdown.MinorUnitsAmount,
		ProductName:        breakdown.ServiceName,
		ProductDescription: productDescription(breakdown),
		CustomerEmail:      customer,
		ClientReferenceID:  bookingCode,
		SuccessURL:         withBookingCode(s.successURL, bookingCode),
		CancelURL:          withBookingCode(s.cancelURL, bookingCode),
		Metadata:           metadata.Map(),
		IdempotencyKey:     bookingCode,
		CollectAccessNotes: req.AccessInstructions == "",
	}
	if schedule.Mode == billingdomain.ModeSubscription {
		gatewayReq.Interval = string(schedule.Interval)
		gatewayReq.IntervalCount = schedule.IntervalCount
		gatewayReq.BillingAnchor = schedule.BillingAnchor()
	}

	session, err := s.openSession(ctx, gatewayReq)
	if err != nil {
		logger.Error("checkout session creation failed", zap.Error(err))
		s.recordFailure(ctx, "gateway")
		return nil, &domain.GatewayError{Op: "create_checkout_session", Err: err}
	}
	logger = logger.With(zap.String("session_id", session.ID))

	booking := s.buildBooking(req, customer, bookingCode, serviceDate, breakdown, schedule, session, metadata)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.bookings.Create(ctx, tx, booking); err != nil {
			return errors.Wrap(err, "insert booking")
		}
		if !breakdown.CouponDiscount.IsPositive() {
			return nil
		}
		_, err := s.coupons.RegisterUsage(ctx, tx, coupondomain.Redemption{
			Code:             breakdown.CouponCode,
			CustomerIdentity: customer,
			BookingReference: bookingCode,
			DiscountAmount:   breakdown.CouponDiscount,
			Subtotal:         breakdown.Subtotal,
		})
		if err != nil {
			return errors.Wrap(err, "register coupon usage")
		}
		return nil
	})
	if err != nil {
		reason := "persistence_failed"
		if errors.Is(err, coupondomain.ErrCouponExhausted) || errors.Is(err, coupondomain.ErrCouponCustomerLimit) {
			reason = "coupon_unavailable"
			s.recordCoupon(ctx, "rejected")
		}
		logger.Error("booking not persisted after session creation; flagged for reconciliation",
			zap.String("reason", reason),
			zap.Error(err),
		)
		s.recordOrphan(ctx, session.ID, bookingCode, reason, logger)
		s.recordFailure(ctx, reason)
		return nil, &domain.PersistenceError{SessionID: session.ID, BookingCode: bookingCode, Err: err}
	}

	if breakdown.CouponDiscount.IsPositive() {
		s.recordCoupon(ctx, "redeemed")
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckoutSession(ctx, string(schedule.Mode), string(breakdown.Recurrence))
	}
	logger.Info("checkout created",
		zap.String("mode", string(schedule.Mode)),
		zap.String("final_amount", breakdown.FinalAmount.StringFixed(2)),
	)

	return &domain.Result{
		SessionID:       session.ID,
		CheckoutURL:     session.URL,
		BookingCode:     bookingCode,
		Breakdown:       breakdown,
		Schedule:        schedule,
		CouponRejection: breakdown.CouponRejectionReason(),
	}, nil
}

func (s *Service) openSession(ctx context.Context, req gatewaydomain.CheckoutRequest) (*gatewaydomain.CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.gateway.CreateCheckoutSession")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "gateway error")
		return nil, err
	}
	if session == nil || session.ID == "" {
		return nil, errors.New("gateway returned no session")
	}
	return session, nil
}

// Quote previews a price and schedule without touching the gateway or storage.
func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.QuoteResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Quote")
	defer span.End()

	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Recurrence = strings.ToLower(strings.TrimSpace(req.Recurrence))
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "validate quote request"), domain.ErrInvalidRequest)
	}

	breakdown, err := s.calculator.Calculate(ctx, pricingdomain.Request{
		ServiceID:        req.ServiceID,
		Extras:           req.Extras,
		Recurrence:       req.Recurrence,
		ManualDiscount:   req.ManualDiscount,
		CouponCode:       req.CouponCode,
		CustomerIdentity: bookingdomain.CustomerIdentity(req.CustomerEmail),
	})
	if err != nil {
		return nil, err
	}

	result := &domain.QuoteResult{
		Breakdown:       breakdown,
		CouponRejection: breakdown.CouponRejectionReason(),
	}
	if req.ScheduledDate != "" {
		serviceDate, err := s.parseServiceDate(req.ScheduledDate)
		if err != nil {
			return nil, err
		}
		schedule, err := s.planner.Plan(serviceDate, breakdown.Recurrence)
		if err != nil {
			return nil, err
		}
		result.Schedule = &schedule
	}
	return result, nil
}

func (s *Service) parseServiceDate(value string) (time.Time, error) {
	serviceDate, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, errors.Mark(errors.Wrap(err, "parse scheduled_date"), domain.ErrInvalidRequest)
	}
	today := s.clock.Now().UTC().Truncate(24 * time.Hour)
	if serviceDate.Before(today) {
		return time.Time{}, errors.Mark(domain.ErrServiceDateInPast, domain.ErrInvalidRequest)
	}
	return serviceDate, nil
}

func (s *Service) buildBooking(
	req domain.BookingRequest,
	customer string,
	bookingCode string,
	serviceDate time.Time,
	breakdown *pricingdomain.Breakdown,
	schedule billingdomain.Schedule,
	session *gatewaydomain.CheckoutSession,
	metadata domain.SessionMetadata,
) *bookingdomain.Booking {
	booking := &bookingdomain.Booking{
		ID:                 s.genID.Generate(),
		BookingCode:        bookingCode,
		ServiceID:          breakdown.ServiceID,
		CustomerName:       req.CustomerName,
		CustomerEmail:      customer,
		CustomerPhone:      req.CustomerPhone,
		AddressLine1:       req.AddressLine1,
		AddressLine2:       req.AddressLine2,
		City:               req.City,
		Postcode:           req.Postcode,
		AccessInstructions: req.AccessInstructions,
		ScheduledDate:      serviceDate,
		ScheduledTime:      req.ScheduledTime,
		Recurrence:         string(breakdown.Recurrence),
		Extras:             strings.Join(breakdown.Extras, ","),
		BasePrice:          breakdown.BasePrice,
		ExtrasPrice:        breakdown.ExtrasPrice,
		Subtotal:           breakdown.Subtotal,
		RecurrenceDiscount: breakdown.RecurrenceDiscount,
		CouponDiscount:     breakdown.CouponDiscount,
		ManualDiscount:     breakdown.ManualDiscount,
		TotalDiscount:      breakdown.TotalDiscount,
		FinalAmount:        breakdown.FinalAmount,
		Currency:           breakdown.Currency,
		CheckoutMode:       string(schedule.Mode),
		FirstBillingDate:   schedule.FirstBillingDate,
		NextBillingDate:    schedule.NextBillingDate,
		ExternalSessionID:  session.ID,
		Status:             bookingdomain.StatusPending,
		Metadata:           datatypes.JSON(mustJSON(metadata.Map())),
		CreatedAt:          s.clock.Now(),
	}
	if breakdown.CouponDiscount.IsPositive() {
		booking.CouponCode = breakdown.CouponCode
	}
	if req.ReferralCode != "" {
		referral := req.ReferralCode
		booking.ReferralCode = &referral
	}
	return booking
}

// recordOrphan runs detached from the request context so a cancelled request
// still leaves a reconciliation record behind.
func (s *Service) recordOrphan(ctx context.Context, sessionID, bookingCode, reason string, logger *zap.Logger) {
	if s.orphans == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanRecordTimeout)
	defer cancel()
	if err := s.orphans.RecordOrphan(ctx, s.gateway.Provider(), sessionID, bookingCode, reason); err != nil {
		logger.Error("orphaned session not recorded", zap.Error(err))
	}
}

func (s *Service) recordFailure(ctx context.Context, reason string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckoutFailure(ctx, reason)
	}
}

func (s *Service) recordCoupon(ctx context.Context, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCouponRedemption(ctx, outcome)
	}
}

func (s *Service) newBookingCode() string {
	return "BK-" + ulid.MustNew(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy()).String()
}

func normalizeBookingRequest(req *domain.BookingRequest) {
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Recurrence = strings.ToLower(strings.TrimSpace(req.Recurrence))
	req.ScheduledDate = strings.TrimSpace(req.ScheduledDate)
	req.ScheduledTime = strings.TrimSpace(req.ScheduledTime)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.AddressLine1 = strings.TrimSpace(req.AddressLine1)
	req.AddressLine2 = strings.TrimSpace(req.AddressLine2)
	req.City = strings.TrimSpace(req.City)
	req.Postcode = strings.ToUpper(strings.TrimSpace(req.Postcode))
	req.AccessInstructions = strings.TrimSpace(req.AccessInstructions)
	req.CouponCode = strings.TrimSpace(req.CouponCode)
	req.ReferralCode = strings.TrimSpace(req.ReferralCode)
}

func productDescription(b *pricingdomain.Breakdown) string {
	parts := []string{}
	if b.ServiceDescription != "" {
		parts = append(parts, b.ServiceDescription)
	}
	if b.Recurrence.IsRecurring() {
		parts = append(parts, "Repeats "+string(b.Recurrence))
	}
	if len(b.Extras) > 0 {
		parts = append(parts, "Extras: "+strings.Join(b.Extras, ", "))
	}
	return strings.Join(parts, ". ")
}

func withBookingCode(rawURL, bookingCode string) string {
	return strings.ReplaceAll(rawURL, bookingCodePlaceholder, url.QueryEscape(bookingCode))
}
