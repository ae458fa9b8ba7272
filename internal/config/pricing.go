package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	FloorPolicyClamp  = "clamp"
	FloorPolicyReject = "reject"
)

// PricingConfig is the static pricing reference data: extras, recurrence
// discounts, the final-amount floor and the catalog seed.
type PricingConfig struct {
	Currency    string               `mapstructure:"currency"`
	FloorAmount decimal.Decimal      `mapstructure:"floorAmount"`
	FloorPolicy string               `mapstructure:"floorPolicy"`
	Extras      []ExtraItem          `mapstructure:"extras"`
	Recurrence  []RecurrenceDiscount `mapstructure:"recurrence"`
	Services    []ServiceSeed        `mapstructure:"services"`
}

type ExtraItem struct {
	Key   string          `mapstructure:"key"`
	Label string          `mapstructure:"label"`
	Price decimal.Decimal `mapstructure:"price"`
}

// RecurrencePlans must all carry a discount entry, even a zero one.
var RecurrencePlans = []string{"one-time", "weekly", "fortnightly", "monthly"}

type RecurrenceDiscount struct {
	Plan    string          `mapstructure:"plan"`
	Percent decimal.Decimal `mapstructure:"percent"`
}

type ServiceSeed struct {
	ID          string          `mapstructure:"id"`
	Name        string          `mapstructure:"name"`
	Description string          `mapstructure:"description"`
	BasePrice   decimal.Decimal `mapstructure:"basePrice"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency:    "usd",
		FloorAmount: decimal.Zero,
		FloorPolicy: FloorPolicyClamp,
		Extras: []ExtraItem{
			{Key: "carpet", Label: "Carpet cleaning", Price: decimal.NewFromInt(15)},
			{Key: "oven", Label: "Oven cleaning", Price: decimal.NewFromInt(25)},
			{Key: "fridge", Label: "Fridge cleaning", Price: decimal.NewFromInt(20)},
			{Key: "windows", Label: "Interior windows", Price: decimal.NewFromInt(30)},
			{Key: "ironing", Label: "Ironing (1 hour)", Price: decimal.NewFromInt(18)},
		},
		Recurrence: []RecurrenceDiscount{
			{Plan: "one-time", Percent: decimal.Zero},
			{Plan: "weekly", Percent: decimal.NewFromInt(7)},
			{Plan: "fortnightly", Percent: decimal.NewFromInt(5)},
			{Plan: "monthly", Percent: decimal.NewFromInt(3)},
		},
		Services: []ServiceSeed{
			{ID: "regular-clean", Name: "Regular Clean", Description: "Standard home clean", BasePrice: decimal.NewFromInt(120)},
			{ID: "deep-clean", Name: "Deep Clean", Description: "Top to bottom deep clean", BasePrice: decimal.NewFromInt(180)},
			{ID: "end-of-tenancy", Name: "End of Tenancy", Description: "Move-out clean", BasePrice: decimal.NewFromInt(260)},
		},
	}
}

// Extra returns the configured extra for key.
func (c PricingConfig) Extra(key string) (ExtraItem, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, item := range c.Extras {
		if item.Key == key {
			return item, true
		}
	}
	return ExtraItem{}, false
}

// RecurrencePercent returns the discount percent for plan.
func (c PricingConfig) RecurrencePercent(plan string) (decimal.Decimal, bool) {
	plan = strings.ToLower(strings.TrimSpace(plan))
	for _, item := range c.Recurrence {
		if item.Plan == plan {
			return item.Percent, true
		}
	}
	return decimal.Zero, false
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	log = log.Named("pricing.config")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/homeserve")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if path := strings.TrimSpace(os.Getenv("HOMESERVE_PRICING_FILE")); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("HOMESERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultPricingConfig()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("pricing config file not found, using defaults")
	} else {
		loaded, err := decodePricing(v)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPricingConfig(cfg)

	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePricing(v)
			if err != nil {
				log.Warn("pricing config reload failed", zap.Error(err))
				return
			}
			if err := ValidatePricingConfig(updated); err != nil {
				log.Warn("invalid pricing config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("pricing config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticPricingConfig wraps an already validated config without file watching.
func NewStaticPricingConfig(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Get returns the current immutable snapshot.
func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	defaults := DefaultPricingConfig()
	cfg := PricingConfig{
		Currency:    defaults.Currency,
		FloorAmount: defaults.FloorAmount,
		FloorPolicy: defaults.FloorPolicy,
	}
	err := v.UnmarshalKey("pricing", &cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return PricingConfig{}, err
	}
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	cfg.FloorPolicy = strings.ToLower(strings.TrimSpace(cfg.FloorPolicy))
	for i := range cfg.Extras {
		cfg.Extras[i].Key = strings.ToLower(strings.TrimSpace(cfg.Extras[i].Key))
	}
	for i := range cfg.Recurrence {
		cfg.Recurrence[i].Plan = strings.ToLower(strings.TrimSpace(cfg.Recurrence[i].Plan))
	}
	return cfg, nil
}

func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(value))
		case float64:
			return decimal.NewFromFloat(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		case decimal.Decimal:
			return value, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into decimal", data)
		}
	}
}

// ValidatePricingConfig rejects tables that would produce unusable prices.
func ValidatePricingConfig(cfg PricingConfig) error {
	if strings.TrimSpace(cfg.Currency) == "" {
		return &ConfigurationError{Field: "pricing.currency", Reason: "is required"}
	}
	if cfg.FloorAmount.IsNegative() {
		return &ConfigurationError{Field: "pricing.floorAmount", Reason: "cannot be negative"}
	}
	switch cfg.FloorPolicy {
	case FloorPolicyClamp, FloorPolicyReject:
	default:
		return &ConfigurationError{Field: "pricing.floorPolicy", Reason: "must be clamp or reject"}
	}
	if len(cfg.Recurrence) == 0 {
		return &ConfigurationError{Field: "pricing.recurrence", Reason: "cannot be empty"}
	}
	seen := map[string]struct{}{}
	for _, item := range cfg.Recurrence {
		if item.Percent.IsNegative() || item.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return &ConfigurationError{Field: "pricing.recurrence." + item.Plan, Reason: "percent must be between 0 and 100"}
		}
		seen[item.Plan] = struct{}{}
	}
	for _, plan := range RecurrencePlans {
		if _, ok := seen[plan]; !ok {
			return &ConfigurationError{Field: "pricing.recurrence." + plan, Reason: "plan is required"}
		}
	}
	for _, item := range cfg.Extras {
		if item.Key == "" {
			return &ConfigurationError{Field: "pricing.extras", Reason: "key is required"}
		}
		if item.Price.IsNegative() {
			return &ConfigurationError{Field: "pricing.extras." + item.Key, Reason: "price cannot be negative"}
		}
	}
	for _, svc := range cfg.Services {
		if !svc.BasePrice.IsPositive() {
			return &ConfigurationError{Field: "pricing.services." + svc.Name, Reason: "base price must be positive"}
		}
	}
	return nil
}
