package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Development-only fallbacks. NewConfig refuses them in other environments.
const (
	devClientKeySecret = "development-client-key-secret"
	devFileSigningKey  = "development-file-signing-key"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Store selects the ledger backend: "postgres" or "memory".
	Store string

	// Optional Redis cache for pricing policies
	RedisURL       string
	PolicyCacheTTL time.Duration

	// Public base URL of this service (payment return links, local file links)
	BaseURL string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files
	FileSigningKey   string // Signs local download links

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Region          string

	// DownloadURLTTL is how long an issued download link stays valid.
	DownloadURLTTL time.Duration

	// Gallery viewer identity
	ClientKeySecret string

	// Photographer API access
	AdminAPIToken string

	// Stripe Configuration
	// In development both may be empty; checkouts then use the no-op gateway.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Pricing
	TaxRateBPS  int64         // Flat sales tax in basis points (825 = 8.25%)
	CheckoutTTL time.Duration // Pending checkouts older than this are expired

	// Checkout sweeper
	SweeperEnabled  bool
	SweeperInterval time.Duration

	// Gallery rate limiting (per client IP)
	RateLimitRPS   float64
	RateLimitBurst int

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// IsDevelopment reports whether the service runs in development mode.
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

		Store:       getEnv("STORE", StorePostgres),
		DatabaseUrl: os.Getenv("DATABASE_URL"),

		RedisURL:       getEnv("REDIS_URL", ""),
		PolicyCacheTTL: getEnvDuration("POLICY_CACHE_TTL", 5*time.Minute),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),
		FileSigningKey:   getEnv("FILE_SIGNING_KEY", ""),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Region:          getEnv("R2_REGION", "auto"),

		DownloadURLTTL: getEnvDuration("DOWNLOAD_URL_TTL", 15*time.Minute),

		ClientKeySecret: getEnv("CLIENT_KEY_SECRET", ""),
		AdminAPIToken:   getEnv("ADMIN_API_TOKEN", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		TaxRateBPS:  getEnvInt64("TAX_RATE_BPS", 0),
		CheckoutTTL: getEnvDuration("CHECKOUT_TTL", time.Hour),

		SweeperEnabled:  getEnvBool("SWEEPER_ENABLED", true),
		SweeperInterval: getEnvDuration("SWEEPER_INTERVAL", time.Minute),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if cfg.IsDevelopment() {
		if cfg.ClientKeySecret == "" {
			cfg.ClientKeySecret = devClientKeySecret
		}
		if cfg.FileSigningKey == "" {
			cfg.FileSigningKey = devFileSigningKey
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is 'postgres'")
		}
	case StoreMemory:
		if !c.IsDevelopment() {
			return fmt.Errorf("STORE 'memory' is only allowed in development")
		}
	default:
		return fmt.Errorf("STORE must be either 'postgres' or 'memory', got: %s", c.Store)
	}

	// Validate storage configuration
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
		if c.FileSigningKey == "" {
			return fmt.Errorf("FILE_SIGNING_KEY is required when STORAGE_PROVIDER is 'local'")
		}
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	if c.ClientKeySecret == "" {
		return fmt.Errorf("CLIENT_KEY_SECRET is required")
	}
	if !c.IsDevelopment() && c.AdminAPIToken == "" {
		return fmt.Errorf("ADMIN_API_TOKEN is required outside development")
	}

	if (c.StripeSecretKey == "") != (c.StripeWebhookSecret == "") {
		return fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set together")
	}
	if !c.IsDevelopment() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required outside development")
	}

	if c.TaxRateBPS < 0 || c.TaxRateBPS > 10000 {
		return fmt.Errorf("TAX_RATE_BPS must be between 0 and 10000, got: %d", c.TaxRateBPS)
	}
	if c.CheckoutTTL < time.Minute {
		return fmt.Errorf("CHECKOUT_TTL must be at least 1m, got: %v", c.CheckoutTTL)
	}
	// Presigned R2 URLs cannot outlive seven days.
	if c.DownloadURLTTL < time.Minute || c.DownloadURLTTL > 7*24*time.Hour {
		return fmt.Errorf("DOWNLOAD_URL_TTL must be between 1m and 168h, got: %v", c.DownloadURLTTL)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}
	return nil
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

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
