package webhook

import (
	"github.com/smallbiznis/homeserve/internal/ratelimit"
	"github.com/smallbiznis/homeserve/internal/webhook/domain"
	"github.com/smallbiznis/homeserve/internal/webhook/repository"
	"github.com/smallbiznis/homeserve/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(l *ratelimit.Limiter) domain.EventLocker { return l }),
	fx.Provide(service.New),
)
