// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe
	StripeSecretKey     string // sk_... secret API key
	StripeWebhookSecret string // whsec_... webhook signing secret
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// Auth
	AdminSessionSecret string // shared secret for the admin session boundary
	SessionTTLHours    int

	// Tokens
	SignupGrantTokens int64 // tokens granted to a new account

	// Content
	ContentAPIURL string // headless content API base URL

	// HTTP
	AllowedOrigins []string // CORS origins for the dashboard

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

// Defaults.
const (
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
	DefaultSessionTTL  = 24
	DefaultSignupGrant = 100
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "https://www.cadogy.com/dashboard?checkout=success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "https://www.cadogy.com/pricing"),
		AdminSessionSecret:  os.Getenv("ADMIN_SESSION_SECRET"),
		SessionTTLHours:     int(getEnvInt64("SESSION_TTL_HOURS", DefaultSessionTTL)),
		SignupGrantTokens:   getEnvInt64("SIGNUP_GRANT_TOKENS", DefaultSignupGrant),
		ContentAPIURL:       getEnv("CONTENT_API_URL", "https://content.cadogy.com"),
		AllowedOrigins:      strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and well-formed.
func (c *Config) Validate() error {
	if c.StripeWebhookSecret != "" && len(c.StripeWebhookSecret) < 8 {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET looks malformed")
	}
	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	if c.SignupGrantTokens < 0 {
		return fmt.Errorf("SIGNUP_GRANT_TOKENS must not be negative")
	}
	// Production refuses to start without the payment boundary configured.
	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AdminSessionSecret == "" {
			return fmt.Errorf("ADMIN_SESSION_SECRET is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

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
