// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Metering settings
	AcceptanceWindow  time.Duration // how far in the past/future occurred_at may lie (clock skew protection)
	ReconcileInterval time.Duration // how often the aggregator recomputes totals from the ledger
	DefaultPlan       string        // plan assigned to tenants created without one

	// Billing provider
	ProviderWebhookSecret string // HMAC secret for generic provider webhooks
	StripeWebhookSecret   string // Stripe signing secret (whsec_...); takes precedence when set
	PastDueGrace          time.Duration

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPM int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultAcceptanceWindow  = 48 * time.Hour
	DefaultReconcileInterval = 5 * time.Minute
	DefaultPastDueGrace      = 7 * 24 * time.Hour
	DefaultRateLimit         = 600
	DefaultPlanName          = "free"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AcceptanceWindow:      getEnvDuration("ACCEPTANCE_WINDOW", DefaultAcceptanceWindow),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		DefaultPlan:           getEnv("DEFAULT_PLAN", DefaultPlanName),
		ProviderWebhookSecret: os.Getenv("PROVIDER_WEBHOOK_SECRET"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PastDueGrace:          getEnvDuration("PAST_DUE_GRACE", DefaultPastDueGrace),
		AdminSecret:           os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AcceptanceWindow <= 0 {
		return fmt.Errorf("ACCEPTANCE_WINDOW must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.PastDueGrace < 0 {
		return fmt.Errorf("PAST_DUE_GRACE must not be negative")
	}
	if c.IsProduction() && c.ProviderWebhookSecret == "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("PROVIDER_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
