package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	aws_pkg "marketplace-service/pkg/aws"
)

// Config holds all environment driven settings for the marketplace service.
type Config struct {
	Env            string
	ServiceName    string
	Port           string
	JWTSecret      string
	MongoURL       string
	MongoDB        string
	RedisURL       string
	PublicBaseURL  string // used to build gateway callback URLs
	AllowedOrigins string
	Currency       string

	MoyasarSecretKey     string
	MoyasarWebhookSecret string
	MoyasarBaseURL       string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalBaseURL      string
	PayPalWebhookID    string

	StripeSecretKey     string
	StripeWebhookSecret string

	CloudinaryURL    string
	CloudinaryFolder string

	KafkaBrokers []string
	KafkaTopic   string
	SNSTopicARN  string

	SettlementRetryQueueURL string

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string

	CartTTL           time.Duration
	IdempotencyTTL    time.Duration
	InvoiceTTL        time.Duration
	ReconcileInterval time.Duration
	OutboxInterval    time.Duration
	SettlementLockTTL time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
}

// secretOverrides maps Secrets Manager names to the config fields they replace.
var secretOverrides = map[string]func(*Config) *string{
	"marketplace/JWT_SECRET":             func(c *Config) *string { return &c.JWTSecret },
	"marketplace/MOYASAR_SECRET_KEY":     func(c *Config) *string { return &c.MoyasarSecretKey },
	"marketplace/MOYASAR_WEBHOOK_SECRET": func(c *Config) *string { return &c.MoyasarWebhookSecret },
	"marketplace/PAYPAL_CLIENT_SECRET":   func(c *Config) *string { return &c.PayPalClientSecret },
	"marketplace/STRIPE_SECRET_KEY":      func(c *Config) *string { return &c.StripeSecretKey },
	"marketplace/STRIPE_WEBHOOK_SECRET":  func(c *Config) *string { return &c.StripeWebhookSecret },
	"marketplace/CLOUDINARY_URL":         func(c *Config) *string { return &c.CloudinaryURL },
	"marketplace/MONGO_URL":              func(c *Config) *string { return &c.MongoURL },
}

// LoadConfig reads the environment (and an optional .env file) into Config.
// If AWS_USE_SECRETS=true, secrets are read from Secrets Manager and override env values;
// lookup failures fall back to the env value.
func LoadConfig(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg := FromEnv()

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := aws_pkg.LoadAWSConfig(ctx); err == nil {
			ApplySecrets(ctx, cfg, aws_pkg.NewSecretsClient(awsCfg, 0))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults without validating it.
func FromEnv() *Config {
	return &Config{
		Env:            getEnv("APP_ENV", "development"),
		ServiceName:    getEnv("SERVICE_NAME", "marketplace-service"),
		Port:           getEnv("PORT", "8080"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		MongoURL:       os.Getenv("MONGO_URL"),
		MongoDB:        getEnv("MONGO_DB", "marketplace"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PublicBaseURL:  strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		Currency:       getEnv("CURRENCY", "SAR"),

		MoyasarSecretKey:     os.Getenv("MOYASAR_SECRET_KEY"),
		MoyasarWebhookSecret: os.Getenv("MOYASAR_WEBHOOK_SECRET"),
		MoyasarBaseURL:       getEnv("MOYASAR_BASE_URL", "https://api.moyasar.com"),

		PayPalClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
		PayPalClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
		PayPalBaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		PayPalWebhookID:    os.Getenv("PAYPAL_WEBHOOK_ID"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		CloudinaryURL:    os.Getenv("CLOUDINARY_URL"),
		CloudinaryFolder: getEnv("CLOUDINARY_FOLDER", "marketplace"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "marketplace.events"),
		SNSTopicARN:  os.Getenv("SNS_TOPIC_ARN"),

		SettlementRetryQueueURL: os.Getenv("SETTLEMENT_RETRY_QUEUE_URL"),

		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "Marketplace"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/marketplace/services"),

		CartTTL:           getDuration("CART_TTL", 7*24*time.Hour),
		IdempotencyTTL:    getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		InvoiceTTL:        getDuration("INVOICE_TTL", 30*time.Minute),
		ReconcileInterval: getDuration("RECONCILE_INTERVAL", time.Minute),
		OutboxInterval:    getDuration("OUTBOX_INTERVAL", 2*time.Second),
		SettlementLockTTL: getDuration("SETTLEMENT_LOCK_TTL", 30*time.Second),

		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 60),
	}
}

// ApplySecrets overrides secret fields with values found in the store.
func ApplySecrets(ctx context.Context, cfg *Config, store aws_pkg.SecretGetter) {
	if p, ok := store.(interface {
		Prefetch(ctx context.Context, names ...string) error
	}); ok {
		names := make([]string, 0, len(secretOverrides))
		for name := range secretOverrides {
			names = append(names, name)
		}
		// Anything the batch missed is fetched one by one below.
		_ = p.Prefetch(ctx, names...)
	}
	for name, field := range secretOverrides {
		if v, err := store.GetSecret(ctx, name); err == nil && v != "" {
			*field(cfg) = v
		}
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.MongoURL == "" {
		return fmt.Errorf("MONGO_URL is required")
	}
	if c.InvoiceTTL <= 0 {
		return fmt.Errorf("INVOICE_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
