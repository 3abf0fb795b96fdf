// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for SMTP email delivery.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// PaymentConfig provides settings for the payment collaborator.
type PaymentConfig interface {
	GetPaymentAPIURL() string
	GetPaymentAPIKey() string
	GetPaymentWebhookSecret() string
	IsPaymentMockEnabled() bool
}

// AllocationConfig provides settings for the lead allocation cascade.
type AllocationConfig interface {
	GetOfferWindow() time.Duration
	GetOfferExpiryWarning() time.Duration
	GetMaxOffersPerLead() int
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	GetAppBaseURL() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	MigrationsDir        string
	JWTAccessSecret      string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	AppBaseURL           string
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	EmailEnabled         bool
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	EmailFromName        string
	EmailFromAddress     string
	PaymentAPIURL        string
	PaymentAPIKey        string
	PaymentWebhookSecret string
	PaymentMock          bool
	OfferWindow          time.Duration
	OfferExpiryWarning   time.Duration
	MaxOffersPerLead     int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool      { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string        { return c.SMTPHost }
func (c *Config) GetSMTPPort() int           { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string    { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string    { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string   { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// PaymentConfig implementation
func (c *Config) GetPaymentAPIURL() string        { return c.PaymentAPIURL }
func (c *Config) GetPaymentAPIKey() string        { return c.PaymentAPIKey }
func (c *Config) GetPaymentWebhookSecret() string { return c.PaymentWebhookSecret }
func (c *Config) IsPaymentMockEnabled() bool      { return c.PaymentMock }

// AllocationConfig implementation
func (c *Config) GetOfferWindow() time.Duration        { return c.OfferWindow }
func (c *Config) GetOfferExpiryWarning() time.Duration { return c.OfferExpiryWarning }
func (c *Config) GetMaxOffersPerLead() int             { return c.MaxOffersPerLead }

// NotificationConfig implementation
func (c *Config) GetAppBaseURL() string { return c.AppBaseURL }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")
	smtpHost := getEnv("SMTP_HOST", "")

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		MigrationsDir:        getEnv("MIGRATIONS_DIR", "migrations"),
		JWTAccessSecret:      getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:           getEnv("APP_BASE_URL", "http://localhost:4200"),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		EmailEnabled:         emailEnabled && smtpHost != "",
		SMTPHost:             smtpHost,
		SMTPPort:             mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		EmailFromName:        getEnv("EMAIL_FROM_NAME", "Leadmarket"),
		EmailFromAddress:     getEnv("EMAIL_FROM_ADDRESS", ""),
		PaymentAPIURL:        getEnv("PAYMENT_API_URL", ""),
		PaymentAPIKey:        getEnv("PAYMENT_API_KEY", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		PaymentMock:          strings.EqualFold(getEnv("PAYMENT_GATEWAY_MOCK", "false"), "true"),
		OfferWindow:          mustDuration(getEnv("OFFER_WINDOW", "12h")),
		OfferExpiryWarning:   mustDuration(getEnv("OFFER_EXPIRY_WARNING", "1h")),
		MaxOffersPerLead:     mustInt(getEnv("MAX_OFFERS_PER_LEAD", "5")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if !cfg.PaymentMock && cfg.PaymentAPIURL == "" {
		return nil, fmt.Errorf("PAYMENT_API_URL is required unless PAYMENT_GATEWAY_MOCK is true")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.OfferWindow <= 0 {
		return nil, fmt.Errorf("OFFER_WINDOW must be a positive duration")
	}
	if cfg.MaxOffersPerLead < 1 {
		return nil, fmt.Errorf("MAX_OFFERS_PER_LEAD must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
