package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Payment gateway
	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	StripeBaseURL       string
	Currency            string

	// Booking rules
	DefaultTimezone       string
	TenantTimezonesJSON   string
	RescheduleHoldTTL     time.Duration
	ConflictRetryAttempts int
	OutboxPollInterval    time.Duration
	HoldReaperInterval    time.Duration

	// Coupons and directory
	CouponValidateMaxPerHour int
	ProfessionalCacheTTL     time.Duration

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Email
	EmailProvider         string
	SendGridAPIKey        string
	SendGridFromEmail     string
	SendGridFromName      string
	SESFromEmail          string
	TenantSenderNamesJSON string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventsQueueURL      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PaymentProvider:     strings.ToLower(strings.TrimSpace(getEnv("PAYMENT_PROVIDER", "fake"))),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		StripeBaseURL:       getEnv("STRIPE_BASE_URL", ""),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),

		DefaultTimezone:       getEnv("DEFAULT_TIMEZONE", "UTC"),
		TenantTimezonesJSON:   getEnv("TENANT_TIMEZONES", ""),
		RescheduleHoldTTL:     getEnvAsDuration("RESCHEDULE_HOLD_TTL", 30*time.Minute),
		ConflictRetryAttempts: getEnvAsInt("CONFLICT_RETRY_ATTEMPTS", 3),
		OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		HoldReaperInterval:    getEnvAsDuration("HOLD_REAPER_INTERVAL", time.Minute),

		CouponValidateMaxPerHour: getEnvAsInt("COUPON_VALIDATE_MAX_PER_HOUR", 30),
		ProfessionalCacheTTL:     getEnvAsDuration("PROFESSIONAL_CACHE_TTL", 5*time.Minute),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		EmailProvider:         strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:     getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:      getEnv("SENDGRID_FROM_NAME", "Practice Booking"),
		SESFromEmail:          getEnv("SES_FROM_EMAIL", ""),
		TenantSenderNamesJSON: getEnv("TENANT_SENDER_NAMES", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),
	}
}

// TenantTimezones decodes TENANT_TIMEZONES ({"tenant-id": "America/Sao_Paulo"}).
// Malformed JSON yields an empty map so the default timezone applies.
func (c *Config) TenantTimezones() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(c.TenantTimezonesJSON) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(c.TenantTimezonesJSON), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// TenantSenderNames decodes TENANT_SENDER_NAMES ({"tenant-id": "Clinic Name"}),
// the display name used on email sent for that tenant.
func (c *Config) TenantSenderNames() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(c.TenantSenderNamesJSON) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(c.TenantSenderNamesJSON), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
