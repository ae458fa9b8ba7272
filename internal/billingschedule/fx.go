package billingschedule

import (
	"github.com/smallbiznis/homeserve/internal/billingschedule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingschedule.service",
	fx.Provide(service.New),
)
