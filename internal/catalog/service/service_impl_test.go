package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeserve/internal/catalog/repository"
	"github.com/smallbiznis/homeserve/internal/catalog/service"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCatalog(t *testing.T) *service.Service {
	t.Helper()
	return service.New(service.Params{
		DB:    testutil.NewDB(t),
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestSeedDerivesSlugAndLookupReturnsService(t *testing.T) {
	ctx := context.Background()
	svc := newCatalog(t)

	err := svc.Seed(ctx, []config.ServiceSeed{
		{Name: "Deep Clean", Description: "Top to bottom", BasePrice: decimal.NewFromInt(120)},
		{ID: "end-of-tenancy", Name: "End of tenancy", BasePrice: decimal.RequireFromString("249.50")},
	})
	require.NoError(t, err)

	found, err := svc.Lookup(ctx, "deep-clean")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Deep Clean", found.Name)
	assert.True(t, found.BasePrice.Equal(decimal.NewFromInt(120)))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLookupUnknownServiceReturnsNil(t *testing.T) {
	svc := newCatalog(t)

	found, err := svc.Lookup(context.Background(), "pool-cleaning")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSeedRejectsNonPositivePrice(t *testing.T) {
	svc := newCatalog(t)

	err := svc.Seed(context.Background(), []config.ServiceSeed{{Name: "Free", BasePrice: decimal.Zero}})
	assert.Error(t, err)
}

func TestSeedRefreshesCachedPrice(t *testing.T) {
	ctx := context.Background()
	svc := newCatalog(t)

	require.NoError(t, svc.Seed(ctx, []config.ServiceSeed{{ID: "standard", Name: "Standard", BasePrice: decimal.NewFromInt(80)}}))
	first, err := svc.Lookup(ctx, "standard")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, svc.Seed(ctx, []config.ServiceSeed{{ID: "standard", Name: "Standard", BasePrice: decimal.NewFromInt(90)}}))
	second, err := svc.Lookup(ctx, "standard")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.BasePrice.Equal(decimal.NewFromInt(90)))
}
