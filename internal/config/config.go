package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/stride/internal/backup"
	"github.com/dukerupert/stride/internal/billing"
)

// Config is everything the server reads from the environment.
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	BaseURL   string
	JWTSecret string
	Timezone  string

	// CollectionsDSN, when set, keeps item collections in PostgreSQL
	// instead of the SQLite database.
	CollectionsDSN string

	// AllowedOrigins are websocket origin patterns besides the request host.
	AllowedOrigins []string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	Backup  backup.Config
	Billing billing.Config
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads STRIDE_* and STRIPE_* variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            env("STRIDE_PORT", "8080"),
		DBPath:          env("STRIDE_DB_PATH", "stride.db"),
		LogLevel:        env("STRIDE_LOG_LEVEL", "info"),
		LogFormat:       env("STRIDE_LOG_FORMAT", "text"),
		BaseURL:         env("STRIDE_BASE_URL", ""),
		JWTSecret:       os.Getenv("STRIDE_JWT_SECRET"),
		Timezone:        env("STRIDE_TIMEZONE", "UTC"),
		CollectionsDSN:  os.Getenv("STRIDE_COLLECTIONS_DSN"),
		VAPIDPublicKey:  os.Getenv("STRIDE_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("STRIDE_VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: env("STRIDE_VAPID_SUBSCRIBER", "mailto:admin@localhost"),
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("STRIDE_S3_ENDPOINT"),
				Bucket:    os.Getenv("STRIDE_S3_BUCKET"),
				Region:    env("STRIDE_S3_REGION", "us-east-1"),
				AccessKey: os.Getenv("STRIDE_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("STRIDE_S3_SECRET_KEY"),
			},
			RetentionDays: backup.DefaultRetentionDays,
		},
		Billing: billing.Config{
			SecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PremiumPriceID: os.Getenv("STRIPE_PREMIUM_PRICE_ID"),
			ProPriceID:     os.Getenv("STRIPE_PRO_PRICE_ID"),
		},
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.Billing.SuccessURL = env("STRIPE_SUCCESS_URL", cfg.BaseURL+"/billing/success")
	cfg.Billing.CancelURL = env("STRIPE_CANCEL_URL", cfg.BaseURL+"/billing/cancel")

	if v := os.Getenv("STRIDE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("STRIDE_BACKUP_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("STRIDE_BACKUP_RETENTION_DAYS: must be a positive integer, got %q", v)
		}
		cfg.Backup.RetentionDays = n
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("STRIDE_TIMEZONE: %w", err)
	}
	return loc, nil
}

// PushEnabled reports whether both VAPID keys are set.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
