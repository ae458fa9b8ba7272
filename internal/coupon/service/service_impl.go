package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/coupon/domain"
	"github.com/smallbiznis/homeserve/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	History domain.CustomerHistory
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	history domain.CustomerHistory
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("coupon.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		history: p.History,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Validate runs the eligibility checks in order and stops at the first failure.
// A rejected coupon is reported through the result, not the error.
func (s *Service) Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerIdentity string) (domain.ValidationResult, error) {
	code = normalizeCode(code)
	customerIdentity = normalizeIdentity(customerIdentity)
	if code == "" {
		return rejected(domain.ReasonNotFound), nil
	}

	coupon, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if coupon == nil || !coupon.IsActive {
		return rejected(domain.ReasonNotFound), nil
	}

	if ok, reason := coupon.ActiveAt(s.clock.Now()); !ok {
		return rejected(reason), nil
	}

	if subtotal.LessThan(coupon.MinimumAmount) {
		return rejected(domain.ReasonBelowMinimum), nil
	}

	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return rejected(domain.ReasonExhausted), nil
	}

	if coupon.PerCustomerLimit > 0 {
		if customerIdentity == "" {
			return rejected(domain.ReasonCustomerRequired), nil
		}
		used, err := s.repo.CountCustomerUsages(ctx, s.db, coupon.ID, customerIdentity)
		if err != nil {
			return domain.ValidationResult{}, err
		}
		if used >= int64(coupon.PerCustomerLimit) {
			return rejected(domain.ReasonPerCustomerLimitReached), nil
		}
	}

	if coupon.FirstTimeOnly {
		if customerIdentity == "" {
			return rejected(domain.ReasonCustomerRequired), nil
		}
		prior, err := s.history.CountConfirmedBookings(ctx, customerIdentity)
		if err != nil {
			return domain.ValidationResult{}, err
		}
		if prior > 0 {
			return rejected(domain.ReasonNotFirstTime), nil
		}
	}

	return domain.ValidationResult{
		Valid:          true,
		DiscountAmount: coupon.Discount(subtotal),
		Coupon:         coupon,
	}, nil
}

func rejected(reason string) domain.ValidationResult {
	return domain.ValidationResult{Valid: false, Reason: reason, DiscountAmount: decimal.Zero}
}

// RegisterUsage consumes one redemption slot on the caller's transaction.
// The usage_count increment is a single conditional update; the row lock it
// takes serializes the per-customer count that follows. Any error leaves the
// caller responsible for rolling back.
func (s *Service) RegisterUsage(ctx context.Context, tx *gorm.DB, req domain.Redemption) (*domain.Usage, error) {
	if tx == nil {
		tx = s.db
	}
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	reference := strings.TrimSpace(req.BookingReference)
	if reference == "" {
		return nil, domain.ErrInvalidReference
	}
	if !req.DiscountAmount.IsPositive() || req.DiscountAmount.GreaterThan(req.Subtotal) {
		return nil, domain.ErrInvalidDiscount
	}
	identity := normalizeIdentity(req.CustomerIdentity)

	coupon, err := s.repo.FindByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, domain.ErrCouponNotFound
	}

	now := s.clock.Now()
	ok, err := s.repo.IncrementUsage(ctx, tx, coupon.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn("coupon redemption rejected",
			zap.String("coupon_code", coupon.Code),
			zap.String("booking_code", reference),
			zap.String("reason", domain.ReasonExhausted),
		)
		return nil, domain.ErrCouponExhausted
	}

	if coupon.PerCustomerLimit > 0 {
		if identity == "" {
			return nil, domain.ErrCustomerRequired
		}
		used, err := s.repo.CountCustomerUsages(ctx, tx, coupon.ID, identity)
		if err != nil {
			return nil, err
		}
		if used >= int64(coupon.PerCustomerLimit) {
			return nil, domain.ErrCouponCustomerLimit
		}
	}

	usage := &domain.Usage{
		ID:               s.genID.Generate(),
		CouponID:         coupon.ID,
		CouponCode:       coupon.Code,
		CustomerIdentity: identity,
		BookingReference: reference,
		DiscountAmount:   req.DiscountAmount.Round(2),
		Subtotal:         req.Subtotal.Round(2),
		CreatedAt:        now,
	}
	if err := s.repo.InsertUsage(ctx, tx, usage); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCouponAlreadyApplied
		}
		return nil, err
	}

	return usage, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Coupon, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	switch req.Type {
	case domain.TypePercentage:
		if req.Value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, domain.ErrInvalidValue
		}
	case domain.TypeFixed:
	default:
		return nil, domain.ErrInvalidType
	}
	if !req.Value.IsPositive() || req.MinimumAmount.IsNegative() {
		return nil, domain.ErrInvalidValue
	}
	if req.MaximumDiscount != nil && !req.MaximumDiscount.IsPositive() {
		return nil, domain.ErrInvalidValue
	}
	if req.UsageLimit < 0 || req.PerCustomerLimit < 0 {
		return nil, domain.ErrInvalidLimit
	}

	now := s.clock.Now()
	validFrom := now
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}
	var validUntil *time.Time
	if req.ValidUntil != nil {
		until := req.ValidUntil.UTC()
		if !until.After(validFrom) {
			return nil, domain.ErrInvalidWindow
		}
		validUntil = &until
	}

	coupon := &domain.Coupon{
		ID:               s.genID.Generate(),
		Code:             code,
		Type:             req.Type,
		Value:            req.Value.Round(2),
		MinimumAmount:    req.MinimumAmount.Round(2),
		UsageLimit:       req.UsageLimit,
		PerCustomerLimit: req.PerCustomerLimit,
		FirstTimeOnly:    req.FirstTimeOnly,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.MaximumDiscount != nil {
		coupon.MaximumDiscount = decimal.NewNullDecimal(req.MaximumDiscount.Round(2))
	}

	if err := s.repo.Insert(ctx, s.db, coupon); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCouponExists
		}
		return nil, err
	}
	s.log.Info("coupon created", zap.String("coupon_code", code), zap.String("type", string(req.Type)))
	return coupon, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	coupon, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if !coupon.IsActive {
		return nil
	}
	if err := s.repo.Deactivate(ctx, s.db, coupon.ID, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("coupon deactivated", zap.String("coupon_code", coupon.Code))
	return nil
}

func (s *Service) Get(ctx context.Context, code string) (*domain.Coupon, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	coupon, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, domain.ErrCouponNotFound
	}
	return coupon, nil
}

func (s *Service) ListUsages(ctx context.Context, code string) ([]domain.Usage, error) {
	coupon, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUsages(ctx, s.db, coupon.ID)
}
