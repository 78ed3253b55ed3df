package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

const (
	BlobBackendMemory = "memory"
	BlobBackendSQLite = "sqlite"
	BlobBackendS3     = "s3"
)

type Config struct {
	Port          string
	PublicBaseURL string

	StripeSecret        string
	StripeWebhookSecret string
	StripePriceID       string
	ProviderTimeout     time.Duration

	TrialDays          int
	TrialCookieName    string
	TrialDailyAnalyses int
	ListRateLimit      int

	BlobBackend string
	DatabaseURL string
	S3          S3Config

	RedisURL string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	AdminToken       string
	SentryDSN        string
	DebugDiagnostics bool
	TestMode         bool
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

// Load reads an optional .env file and then builds the config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return New()
}

func New() (*Config, error) {
	var result *multierror.Error

	testMode := boolEnv("TEST_MODE")

	cfg := &Config{
		Port:                envOr("PORT", "8080"),
		PublicBaseURL:       strings.TrimRight(envOr("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		StripeSecret:        os.Getenv("STRIPE_SECRET"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceID:       os.Getenv("STRIPE_PRICE_ID"),
		TrialCookieName:     envOr("TRIAL_COOKIE_NAME", "bc_trial"),
		BlobBackend:         strings.ToLower(envOr("BLOB_BACKEND", BlobBackendSQLite)),
		DatabaseURL:         envOr("DATABASE_URL", "beliefcoach.db"),
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          envOr("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			PublicURL:       strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/"),
		},
		RedisURL:         os.Getenv("REDIS_URL"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         os.Getenv("SMTP_PORT"),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		EmailFrom:        envOr("EMAIL_FROM", "licenses@beliefcoach.app"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		DebugDiagnostics: boolEnv("DEBUG_DIAGNOSTICS"),
		TestMode:         testMode,
	}

	var err error
	if cfg.TrialDays, err = positiveIntEnv("TRIAL_DAYS", 7); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.TrialDailyAnalyses, err = positiveIntEnv("TRIAL_DAILY_ANALYSES", 20); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.ListRateLimit, err = positiveIntEnv("LIST_RATE_LIMIT", 30); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.ProviderTimeout, err = durationEnv("PROVIDER_TIMEOUT", 8*time.Second); err != nil {
		result = multierror.Append(result, err)
	}

	if !testMode {
		if cfg.StripeSecret == "" {
			result = multierror.Append(result, errors.New("STRIPE_SECRET environment variable is required"))
		}
		if cfg.StripeWebhookSecret == "" {
			result = multierror.Append(result, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required"))
		}
	}

	switch cfg.BlobBackend {
	case BlobBackendMemory, BlobBackendSQLite:
	case BlobBackendS3:
		if cfg.S3.Bucket == "" {
			result = multierror.Append(result, errors.New("S3_BUCKET environment variable is required when BLOB_BACKEND=s3"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("BLOB_BACKEND must be one of memory, sqlite, s3; got %q", cfg.BlobBackend))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SMTPConfigured reports whether license emails can be delivered.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPPort != ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func positiveIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
