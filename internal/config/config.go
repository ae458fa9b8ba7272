package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Stripe    StripeConfig
	Checkout  CheckoutConfig
	Webhook   WebhookConfig
	Redis     RedisConfig
	SMTP      SMTPConfig
	Reconcile ReconcileConfig
}

type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	WebhookTolerance  time.Duration
	SuccessURL        string
	CancelURL         string
	AutomaticTax      bool
	ShippingCountries []string
	MaxRetries        int
}

type CheckoutConfig struct {
	GatewayTimeout time.Duration

	// Per client IP; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

type WebhookConfig struct {
	NotFoundMaxRetries uint64
	NotFoundMaxElapsed time.Duration
	LockTTL            time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type ReconcileConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "homeserve"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "homeserve"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Stripe: StripeConfig{
			SecretKey:         strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:     strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance:  getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			SuccessURL:        strings.TrimSpace(getenv("CHECKOUT_SUCCESS_URL", "")),
			CancelURL:         strings.TrimSpace(getenv("CHECKOUT_CANCEL_URL", "")),
			AutomaticTax:      getenvBool("STRIPE_AUTOMATIC_TAX", false),
			ShippingCountries: parseList(getenv("STRIPE_SHIPPING_COUNTRIES", "")),
			MaxRetries:        getenvInt("STRIPE_MAX_RETRIES", 2),
		},
		Checkout: CheckoutConfig{
			GatewayTimeout: getenvDuration("GATEWAY_TIMEOUT", 20*time.Second),
			RatePerSecond:  getenvFloat("CHECKOUT_RATE_PER_SECOND", 0.5),
			Burst:          getenvInt("CHECKOUT_RATE_BURST", 5),
		},
		Webhook: WebhookConfig{
			NotFoundMaxRetries: getenvUint("WEBHOOK_NOT_FOUND_MAX_RETRIES", 3),
			NotFoundMaxElapsed: getenvDuration("WEBHOOK_NOT_FOUND_MAX_ELAPSED", 2*time.Second),
			LockTTL:            getenvDuration("WEBHOOK_LOCK_TTL", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     strings.TrimSpace(getenv("SMTP_FROM", "bookings@localhost")),
		},
		Reconcile: ReconcileConfig{
			Interval:  getenvDuration("RECONCILE_INTERVAL", time.Minute),
			BatchSize: getenvInt("RECONCILE_BATCH_SIZE", 50),
		},
	}

	return cfg
}

// Validate reports missing gateway credentials. It is run once at startup.
func (c Config) Validate() error {
	switch {
	case c.Stripe.SecretKey == "":
		return &ConfigurationError{Field: "STRIPE_SECRET_KEY", Reason: "is required"}
	case c.Stripe.WebhookSecret == "":
		return &ConfigurationError{Field: "STRIPE_WEBHOOK_SECRET", Reason: "is required"}
	case c.Stripe.SuccessURL == "":
		return &ConfigurationError{Field: "CHECKOUT_SUCCESS_URL", Reason: "is required"}
	case c.Stripe.CancelURL == "":
		return &ConfigurationError{Field: "CHECKOUT_CANCEL_URL", Reason: "is required"}
	case c.Stripe.WebhookTolerance <= 0:
		return &ConfigurationError{Field: "STRIPE_WEBHOOK_TOLERANCE", Reason: "must be positive"}
	case c.Checkout.GatewayTimeout <= 0:
		return &ConfigurationError{Field: "GATEWAY_TIMEOUT", Reason: "must be positive"}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// getenvUint clamps negative values to zero.
func getenvUint(key string, def uint64) uint64 {
	parsed := getenvInt(key, int(def))
	if parsed < 0 {
		return 0
	}
	return uint64(parsed)
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
