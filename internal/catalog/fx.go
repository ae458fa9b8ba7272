package catalog

import (
	"context"

	"github.com/smallbiznis/homeserve/internal/catalog/domain"
	"github.com/smallbiznis/homeserve/internal/catalog/repository"
	"github.com/smallbiznis/homeserve/internal/catalog/service"
	"github.com/smallbiznis/homeserve/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Catalog { return s }),
	fx.Invoke(func(s *service.Service, holder *config.PricingConfigHolder) error {
		return s.Seed(context.Background(), holder.Get().Services)
	}),
)
