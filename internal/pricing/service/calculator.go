package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/homeserve/internal/catalog/domain"
	coupondomain "github.com/smallbiznis/homeserve/internal/coupon/domain"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	Log     *zap.Logger
	Catalog catalogdomain.Catalog
	Coupons domain.CouponValidator
	Pricing *config.PricingConfigHolder
}

type Calculator struct {
	log     *zap.Logger
	catalog catalogdomain.Catalog
	coupons domain.CouponValidator
	pricing *config.PricingConfigHolder
}

func New(p Params) domain.Calculator {
	return &Calculator{
		log:     p.Log.Named("pricing.calculator"),
		catalog: p.Catalog,
		coupons: p.Coupons,
		pricing: p.Pricing,
	}
}

// Calculate prices a request without side effects. A coupon is only
// validated here; redemption happens at checkout.
func (c *Calculator) Calculate(ctx context.Context, req domain.Request) (*domain.Breakdown, error) {
	cfg := c.pricing.Get()

	recurrence, err := domain.ParseRecurrence(req.Recurrence)
	if err != nil {
		return nil, err
	}
	percent, ok := cfg.RecurrencePercent(string(recurrence))
	if !ok {
		return nil, domain.ErrInvalidRecurrence
	}
	if req.ManualDiscount.IsNegative() {
		return nil, domain.ErrInvalidManualDiscount
	}

	serviceID := strings.ToLower(strings.TrimSpace(req.ServiceID))
	svc, err := c.catalog.Lookup(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc == nil || !svc.BasePrice.IsPositive() {
		return nil, &domain.UnknownServiceError{ServiceID: req.ServiceID}
	}

	breakdown := &domain.Breakdown{
		ServiceID:          svc.ID,
		ServiceName:        svc.Name,
		ServiceDescription: svc.Description,
		Recurrence:         recurrence,
		Extras:             []string{},
		BasePrice:          svc.BasePrice.Round(2),
		ExtrasPrice:        decimal.Zero,
		CouponDiscount:     decimal.Zero,
		ManualDiscount:     req.ManualDiscount.Round(2),
		Currency:           cfg.Currency,
	}

	keys := lo.Uniq(lo.FilterMap(req.Extras, func(key string, _ int) (string, bool) {
		key = strings.ToLower(strings.TrimSpace(key))
		return key, key != ""
	}))
	for _, key := range keys {
		extra, ok := cfg.Extra(key)
		if !ok {
			breakdown.IgnoredExtras = append(breakdown.IgnoredExtras, key)
			continue
		}
		breakdown.Extras = append(breakdown.Extras, extra.Key)
		breakdown.ExtrasPrice = breakdown.ExtrasPrice.Add(extra.Price)
	}
	if len(breakdown.IgnoredExtras) > 0 {
		c.log.Warn("unknown extras ignored",
			zap.String("service_id", svc.ID),
			zap.Strings("extras", breakdown.IgnoredExtras),
		)
	}
	breakdown.ExtrasPrice = breakdown.ExtrasPrice.Round(2)
	breakdown.Subtotal = breakdown.BasePrice.Add(breakdown.ExtrasPrice)
	breakdown.RecurrenceDiscount = breakdown.Subtotal.Mul(percent).Div(hundred).Round(2)

	if code := strings.ToUpper(strings.TrimSpace(req.CouponCode)); code != "" {
		breakdown.CouponCode = code
		result, err := c.coupons.Validate(ctx, code, breakdown.Subtotal, req.CustomerIdentity)
		if err != nil {
			return nil, fmt.Errorf("validate coupon: %w", err)
		}
		if result.Valid {
			breakdown.CouponDiscount = decimal.Min(result.DiscountAmount, breakdown.Subtotal)
		} else {
			breakdown.CouponRejection = result.Err().(*coupondomain.InvalidError)
			c.log.Info("coupon rejected",
				zap.String("coupon_code", code),
				zap.String("reason", result.Reason),
			)
		}
	}

	breakdown.TotalDiscount = breakdown.RecurrenceDiscount.
		Add(breakdown.CouponDiscount).
		Add(breakdown.ManualDiscount)

	final := breakdown.Subtotal.Sub(breakdown.TotalDiscount).Round(2)
	if final.LessThan(cfg.FloorAmount) {
		if cfg.FloorPolicy == config.FloorPolicyReject {
			return nil, fmt.Errorf("%w: %s below %s", domain.ErrBelowFloor, final.StringFixed(2), cfg.FloorAmount.StringFixed(2))
		}
		c.log.Warn("final amount clamped to floor",
			zap.String("service_id", svc.ID),
			zap.String("computed", final.StringFixed(2)),
			zap.String("floor", cfg.FloorAmount.StringFixed(2)),
		)
		final = cfg.FloorAmount.Round(2)
		breakdown.FloorApplied = true
	}
	breakdown.FinalAmount = final
	breakdown.MinorUnitsAmount = final.Mul(hundred).Round(0).IntPart()

	return breakdown, nil
}
