package coupon

import (
	"github.com/smallbiznis/homeserve/internal/coupon/repository"
	"github.com/smallbiznis/homeserve/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
