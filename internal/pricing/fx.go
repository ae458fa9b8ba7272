package pricing

import (
	coupondomain "github.com/smallbiznis/homeserve/internal/coupon/domain"
	"github.com/smallbiznis/homeserve/internal/pricing/domain"
	"github.com/smallbiznis/homeserve/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(func(s coupondomain.Service) domain.CouponValidator { return s }),
	fx.Provide(service.New),
)
