package notification

import (
	webhookdomain "github.com/smallbiznis/homeserve/internal/webhook/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(New),
	fx.Provide(func(s *Service) webhookdomain.Notifier { return s }),
)
