package booking

import (
	"github.com/smallbiznis/homeserve/internal/booking/domain"
	"github.com/smallbiznis/homeserve/internal/booking/repository"
	"github.com/smallbiznis/homeserve/internal/booking/service"
	coupondomain "github.com/smallbiznis/homeserve/internal/coupon/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) coupondomain.CustomerHistory { return s }),
)
