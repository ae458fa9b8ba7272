package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPricingConfigIsValid(t *testing.T) {
	if err := ValidatePricingConfig(DefaultPricingConfig()); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidatePricingConfigRejectsNegativeFloor(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.FloorAmount = decimal.NewFromInt(-1)

	err := ValidatePricingConfig(cfg)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "pricing.floorAmount", cfgErr.Field)
}

func TestValidatePricingConfigRequiresEveryPlan(t *testing.T) {
	for _, missing := range RecurrencePlans {
		t.Run(missing, func(t *testing.T) {
			cfg := DefaultPricingConfig()
			cfg.Recurrence = nil
			for _, item := range DefaultPricingConfig().Recurrence {
				if item.Plan != missing {
					cfg.Recurrence = append(cfg.Recurrence, item)
				}
			}

			err := ValidatePricingConfig(cfg)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "pricing.recurrence."+missing, cfgErr.Field)
		})
	}
}

func TestDefaultPricingConfigSeedsCatalog(t *testing.T) {
	cfg := DefaultPricingConfig()

	require.NotEmpty(t, cfg.Services)
	assert.Equal(t, "regular-clean", cfg.Services[0].ID)
	assert.True(t, cfg.Services[0].BasePrice.Equal(decimal.NewFromInt(120)))
}

func TestPricingConfigLookups(t *testing.T) {
	cfg := DefaultPricingConfig()

	extra, ok := cfg.Extra(" Oven ")
	require.True(t, ok)
	assert.True(t, extra.Price.Equal(decimal.NewFromInt(25)))

	_, ok = cfg.Extra("pool")
	assert.False(t, ok)

	percent, ok := cfg.RecurrencePercent("weekly")
	require.True(t, ok)
	assert.True(t, percent.Equal(decimal.NewFromInt(7)))
}

func TestNewPricingConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yml")
	content := `pricing:
  currency: GBP
  floorAmount: "10.00"
  floorPolicy: clamp
  extras:
    - key: Oven
      label: Oven cleaning
      price: 22.5
  recurrence:
    - plan: one-time
      percent: 0
    - plan: weekly
      percent: "12.5"
    - plan: fortnightly
      percent: 5
    - plan: monthly
      percent: 3
  services:
    - name: Deep Clean
      basePrice: 140
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOMESERVE_PRICING_FILE", path)

	holder, err := NewPricingConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "gbp", cfg.Currency)
	assert.True(t, cfg.FloorAmount.Equal(decimal.NewFromInt(10)))
	require.Len(t, cfg.Extras, 1)
	assert.Equal(t, "oven", cfg.Extras[0].Key)
	assert.True(t, cfg.Extras[0].Price.Equal(decimal.RequireFromString("22.5")))

	percent, ok := cfg.RecurrencePercent("weekly")
	require.True(t, ok)
	assert.True(t, percent.Equal(decimal.RequireFromString("12.5")))

	require.Len(t, cfg.Services, 1)
	assert.True(t, cfg.Services[0].BasePrice.Equal(decimal.NewFromInt(140)))
}

func TestConfigValidateRequiresStripeCredentials(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "STRIPE_SECRET_KEY", cfgErr.Field)
}
