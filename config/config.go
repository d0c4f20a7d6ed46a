package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "enrollment-service/pkg/aws"

	"github.com/joho/godotenv"
)

const (
	dbSecretName      = "enrollment/DB_CREDENTIALS"
	gatewaySecretName = "enrollment/GATEWAY_SECRETS"
)

// Config holds all configuration for the enrollment service.
type Config struct {
	Port           string
	AppEnv         string
	AllowedOrigins []string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	GatewayProvider       string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	StripeAPIKey          string
	StripeWebhookSecret   string
	GatewayTimeout        time.Duration
	GatewayMaxRetries     int

	StoreTimeout           time.Duration
	FulfillmentMaxAttempts int
	ReconcileInterval      time.Duration
	ReconcileStaleAfter    time.Duration
	ReconcileBatchSize     int
	ReconcileMaxAttempts   int

	EventBus            string
	PaymentSNSTopicARN  string
	KafkaBrokers        []string
	KafkaTopic          string
	ReviewQueueURL      string
	AuditBucket         string
	OTLPEndpoint        string
	CloudWatchEnabled   bool
	CloudWatchLogGroup  string
	CloudWatchNamespace string
}

// LoadConfig reads configuration from the environment (and an optional .env
// file) with an optional Secrets Manager override.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8095"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),

		GatewayProvider:       strings.ToLower(getEnv("GATEWAY_PROVIDER", "razorpay")),
		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		RazorpayBaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
		StripeAPIKey:          os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		GatewayTimeout:        getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayMaxRetries:     getInt("GATEWAY_MAX_RETRIES", 3),

		StoreTimeout:           getDuration("STORE_TIMEOUT", 5*time.Second),
		FulfillmentMaxAttempts: getInt("FULFILLMENT_MAX_ATTEMPTS", 3),
		ReconcileInterval:      getDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileStaleAfter:    getDuration("RECONCILE_STALE_AFTER", 5*time.Minute),
		ReconcileBatchSize:     getInt("RECONCILE_BATCH_SIZE", 50),
		ReconcileMaxAttempts:   getInt("RECONCILE_MAX_ATTEMPTS", 10),

		EventBus:            strings.ToLower(getEnv("EVENT_BUS", "sns")),
		PaymentSNSTopicARN:  os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		KafkaBrokers:        getList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "enrollment-payments"),
		ReviewQueueURL:      os.Getenv("REVIEW_QUEUE_URL"),
		AuditBucket:         os.Getenv("AUDIT_BUCKET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/ecs/enrollment-service"),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "EnrollmentService"),
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		applySecrets(ctx, cfg, aws_pkg.NewSecretsClient(awsCfg))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type secretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// applySecrets overrides credentials with values found in Secrets Manager.
// Missing secrets leave the environment values in place.
func applySecrets(ctx context.Context, cfg *Config, src secretSource) {
	if m, err := src.GetSecretMap(ctx, dbSecretName); err == nil {
		override(&cfg.PostgresUser, m, "POSTGRES_USER")
		override(&cfg.PostgresPassword, m, "POSTGRES_PASSWORD")
		override(&cfg.PostgresDB, m, "POSTGRES_DB")
		override(&cfg.PostgresHost, m, "POSTGRES_HOST")
		override(&cfg.PostgresPort, m, "POSTGRES_PORT")
	}
	if m, err := src.GetSecretMap(ctx, gatewaySecretName); err == nil {
		override(&cfg.RazorpayKeyID, m, "RAZORPAY_KEY_ID")
		override(&cfg.RazorpayKeySecret, m, "RAZORPAY_KEY_SECRET")
		override(&cfg.RazorpayWebhookSecret, m, "RAZORPAY_WEBHOOK_SECRET")
		override(&cfg.StripeAPIKey, m, "STRIPE_API_KEY")
		override(&cfg.StripeWebhookSecret, m, "STRIPE_WEBHOOK_SECRET")
	}
}

func override(dst *string, m map[string]string, key string) {
	if v, ok := m[key]; ok && v != "" {
		*dst = v
	}
}

// Validate checks that the settings the service cannot start without are present.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	switch c.GatewayProvider {
	case "razorpay":
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			return fmt.Errorf("razorpay credentials not set")
		}
	case "stripe":
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_PROVIDER %q", c.GatewayProvider)
	}
	switch c.EventBus {
	case "sns", "kafka", "none":
	default:
		return fmt.Errorf("unknown EVENT_BUS %q", c.EventBus)
	}
	if c.GatewayTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.FulfillmentMaxAttempts < 1 || c.GatewayMaxRetries < 1 || c.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("attempt counts must be at least 1")
	}
	return nil
}

// GatewayConfigured reports whether credentials for the selected provider are present.
func (c *Config) GatewayConfigured() bool {
	if c.GatewayProvider == "stripe" {
		return c.StripeAPIKey != ""
	}
	return c.RazorpayKeyID != "" && c.RazorpayKeySecret != ""
}

// SignatureSecret is the key the checkout callback signature is computed with.
// Only Razorpay signs callbacks; Stripe deployments rely on webhooks, so the
// Stripe webhook secret is never used here.
func (c *Config) SignatureSecret() string {
	return c.RazorpayKeySecret
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
