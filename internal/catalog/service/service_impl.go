package service

import (
	"context"
	"strings"
	"time"

	"github.com/gosimple/slug"
	gocache "github.com/patrickmn/go-cache"
	"github.com/smallbiznis/homeserve/internal/catalog/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCacheTTL = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

// Service is the DB-backed catalog with a read-through TTL cache.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	cache *gocache.Cache
}

func New(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: gocache.New(defaultCacheTTL, cleanupInterval),
	}
}

func (s *Service) Lookup(ctx context.Context, serviceID string) (*domain.Service, error) {
	serviceID = strings.ToLower(strings.TrimSpace(serviceID))
	if serviceID == "" {
		return nil, nil
	}
	if cached, ok := s.cache.Get(serviceID); ok {
		svc := cached.(domain.Service)
		return &svc, nil
	}

	svc, err := s.repo.FindByID(ctx, s.db, serviceID)
	if err != nil {
		return nil, err
	}
	if svc == nil || !svc.Active {
		return nil, nil
	}
	s.cache.SetDefault(serviceID, *svc)
	return svc, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Service, error) {
	return s.repo.List(ctx, s.db)
}

// Seed upserts the services declared in the pricing config and drops cached entries.
func (s *Service) Seed(ctx context.Context, seeds []config.ServiceSeed) error {
	now := s.clock.Now()
	for _, seed := range seeds {
		id := strings.TrimSpace(seed.ID)
		if id == "" {
			id = slug.Make(seed.Name)
		}
		id = strings.ToLower(id)
		if id == "" || !seed.BasePrice.IsPositive() {
			return domain.ErrInvalidService
		}
		svc := &domain.Service{
			ID:          id,
			Name:        strings.TrimSpace(seed.Name),
			Description: strings.TrimSpace(seed.Description),
			BasePrice:   seed.BasePrice.Round(2),
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Upsert(ctx, s.db, svc); err != nil {
			return err
		}
		s.cache.Delete(id)
	}
	if len(seeds) > 0 {
		s.log.Info("catalog seeded", zap.Int("services", len(seeds)))
	}
	return nil
}
