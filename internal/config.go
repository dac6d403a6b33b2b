package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/chartlens/internal/domain"
	"github.com/joho/godotenv"
)

// FeatureFlags are the product switches read once at startup and passed to
// the components that need them.
type FeatureFlags struct {
	ShowPricing        bool // expose GET /api/pricing
	FreeHistoryAccess  bool // free users may list past analyses
	InviteCodesEnabled bool // registration requires an invite code
}

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Optional; enables the shared rate limiter.
	RedisURL string

	// Set when running behind a reverse proxy that writes X-Real-IP or
	// X-Forwarded-For.
	TrustProxyHeaders bool

	// Public base URL, used for Stripe return URLs
	BaseURL string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	LocalStoragePath string
	LocalStorageURL  string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	// AI Provider Configuration
	AIProvider          string // "anthropic" or "mock"
	AnthropicAPIKey     string
	AnthropicModel      string
	AnthropicBaseURL    string
	AIMaxRetries        int
	AIRetryBaseDelay    time.Duration
	AIRequestTimeout    time.Duration
	AIMaxImageDimension int
	MaxUploadSize       int64

	// Quota
	QuotaDailyLimit   int
	QuotaMonthlyLimit int
	QuotaGraceDays    int
	QuotaGraceLimit   int
	QuotaTimezone     *time.Location

	Features         FeatureFlags
	ValidInviteCodes []string

	// Stripe Billing Configuration
	// Billing routes answer 503 while the secret key is empty.
	StripeSecretKey             string
	StripeWebhookSecret         string
	StripePremiumMonthlyPriceID string
	StripePremiumYearlyPriceID  string

	// Rate limiting for the analyze and auth routes
	AnalyzeRateLimit  int
	AnalyzeRateWindow time.Duration
	AuthRateLimit     int
	AuthRateWindow    time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// QuotaLimits returns the configured free-tier limits.
func (c *Config) QuotaLimits() domain.QuotaLimits {
	return domain.QuotaLimits{
		DailyLimit:   c.QuotaDailyLimit,
		MonthlyLimit: c.QuotaMonthlyLimit,
		GraceDays:    c.QuotaGraceDays,
		GraceLimit:   c.QuotaGraceLimit,
		Location:     c.QuotaTimezone,
	}
}

// IsDevelopment reports whether cookies may be sent without Secure.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),
		RedisURL: getEnv("REDIS_URL", ""),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),

		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),

		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		AIProvider:          getEnv("AI_PROVIDER", "mock"),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:      getEnv("ANTHROPIC_MODEL", ""),
		AnthropicBaseURL:    getEnv("ANTHROPIC_BASE_URL", ""),
		AIMaxRetries:        getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay:    getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout:    getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),
		AIMaxImageDimension: getEnvInt("AI_MAX_IMAGE_DIMENSION", 1568),
		MaxUploadSize:       int64(getEnvInt("MAX_UPLOAD_SIZE", 10<<20)),

		QuotaDailyLimit:   getEnvInt("QUOTA_DAILY_LIMIT", 3),
		QuotaMonthlyLimit: getEnvInt("QUOTA_MONTHLY_LIMIT", 10),
		QuotaGraceDays:    getEnvInt("QUOTA_GRACE_DAYS", 3),
		QuotaGraceLimit:   getEnvInt("QUOTA_GRACE_LIMIT", 5),

		Features: FeatureFlags{
			ShowPricing:        getEnvBool("SHOW_PRICING", false),
			FreeHistoryAccess:  getEnvBool("FREE_HISTORY_ACCESS", false),
			InviteCodesEnabled: getEnvBool("INVITE_CODES_ENABLED", false),
		},
		ValidInviteCodes: splitList(getEnv("VALID_INVITE_CODES", "")),

		StripeSecretKey:             getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:         getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePremiumMonthlyPriceID: getEnv("STRIPE_PREMIUM_MONTHLY_PRICE_ID", ""),
		StripePremiumYearlyPriceID:  getEnv("STRIPE_PREMIUM_YEARLY_PRICE_ID", ""),

		AnalyzeRateLimit:  getEnvInt("ANALYZE_RATE_LIMIT", 10),
		AnalyzeRateWindow: getEnvDuration("ANALYZE_RATE_WINDOW", time.Minute),
		AuthRateLimit:     getEnvInt("AUTH_RATE_LIMIT", 5),
		AuthRateWindow:    getEnvDuration("AUTH_RATE_WINDOW", time.Minute),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	tz, err := time.LoadLocation(getEnv("QUOTA_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
	}
	cfg.QuotaTimezone = tz

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageProvider {
	case "r2":
		if c.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	case "local":
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	switch c.AIProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "mock":
	default:
		return fmt.Errorf("AI_PROVIDER must be either 'anthropic' or 'mock', got: %s", c.AIProvider)
	}

	if c.QuotaDailyLimit < 1 || c.QuotaMonthlyLimit < c.QuotaDailyLimit {
		return fmt.Errorf("quota limits must satisfy 1 <= QUOTA_DAILY_LIMIT <= QUOTA_MONTHLY_LIMIT, got %d and %d",
			c.QuotaDailyLimit, c.QuotaMonthlyLimit)
	}
	if c.QuotaGraceDays < 0 || c.QuotaGraceLimit < 0 {
		return fmt.Errorf("QUOTA_GRACE_DAYS and QUOTA_GRACE_LIMIT must not be negative")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}

	if c.Features.InviteCodesEnabled && len(c.ValidInviteCodes) == 0 {
		return fmt.Errorf("VALID_INVITE_CODES is required when INVITE_CODES_ENABLED is true")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
