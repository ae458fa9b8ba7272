package gateway

import (
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/gateway/adapters/stripe"
	"github.com/smallbiznis/homeserve/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (domain.Gateway, error) {
		return stripe.New(stripe.ConfigFrom(cfg, log))
	}),
)
