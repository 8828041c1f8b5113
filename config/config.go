package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "checkout-service/pkg/aws"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Port string
	Env  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	OrderStore string // postgres | mongo
	MongoURI   string
	MongoDB    string

	StagingBackend string // redis | dynamodb
	RedisURL       string
	StagingTable   string
	StagingTTL     time.Duration

	CallbackTimeout time.Duration

	EsewaSecretKey                string
	EsewaProductCode              string
	EsewaRequireCallbackSignature bool
	KhaltiSecretKey               string
	KhaltiBaseURL                 string

	FrontendURL string
	JWTSecret   string

	EventBus         string // sns | kafka | none
	OrderSNSTopicArn string
	KafkaBrokers     []string
	KafkaTopic       string

	CallbackQueueURL  string
	CloudWatchEnabled bool
	AllowedOrigins    []string
}

// Secret names read when AWS_USE_SECRETS=true.
const (
	SecretDBCredentials = "checkout/DB_CREDENTIALS"
	SecretEsewaKey      = "checkout/ESEWA_SECRET_KEY"
	SecretKhaltiKey     = "checkout/KHALTI_SECRET_KEY"
)

// LoadConfig reads configuration from the environment (and .env when
// present), with optional Secrets Manager overrides. Gateway secrets may be
// empty; initiation then fails with a configuration error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := aws_pkg.LoadAWSConfig(context.Background()); err == nil {
			applySecrets(context.Background(), cfg, aws_pkg.NewSecretsClient(awsCfg))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Port:             getEnv("PORT", "8094"),
		Env:              getEnv("ENV", "development"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kathmandu"),

		OrderStore: strings.ToLower(getEnv("ORDER_STORE", "postgres")),
		MongoURI:   os.Getenv("MONGO_URI"),
		MongoDB:    getEnv("MONGO_DB", "bookstore"),

		StagingBackend: strings.ToLower(getEnv("STAGING_BACKEND", "redis")),
		RedisURL:       getEnv("REDIS_URL", "redis://redis:6379"),
		StagingTable:   getEnv("STAGING_TABLE", "checkout-staging"),
		StagingTTL:     getDuration("STAGING_TTL", 30*time.Minute),

		CallbackTimeout: getDuration("CALLBACK_TIMEOUT", 15*time.Second),

		EsewaSecretKey:                os.Getenv("ESEWA_SECRET_KEY"),
		EsewaProductCode:              getEnv("ESEWA_PRODUCT_CODE", "EPAYTEST"),
		EsewaRequireCallbackSignature: getBool("ESEWA_REQUIRE_CALLBACK_SIGNATURE", true),
		KhaltiSecretKey:               os.Getenv("KHALTI_SECRET_KEY"),
		KhaltiBaseURL:                 getEnv("KHALTI_BASE_URL", "https://dev.khalti.com/api/v2"),

		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		EventBus:         strings.ToLower(getEnv("EVENT_BUS", "none")),
		OrderSNSTopicArn: os.Getenv("ORDER_SNS_TOPIC_ARN"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "orders.events"),

		CallbackQueueURL:  os.Getenv("CALLBACK_QUEUE_URL"),
		CloudWatchEnabled: os.Getenv("CLOUDWATCH_ENABLED") == "true",
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
	}
}

func applySecrets(ctx context.Context, cfg *Config, sm aws_pkg.SecretGetter) {
	if m, err := aws_pkg.GetSecretMap(ctx, sm, SecretDBCredentials); err == nil {
		if v, ok := m["POSTGRES_USER"]; ok && v != "" {
			cfg.PostgresUser = v
		}
		if v, ok := m["POSTGRES_PASSWORD"]; ok && v != "" {
			cfg.PostgresPassword = v
		}
		if v, ok := m["POSTGRES_DB"]; ok && v != "" {
			cfg.PostgresDB = v
		}
		if v, ok := m["POSTGRES_HOST"]; ok && v != "" {
			cfg.PostgresHost = v
		}
		if v, ok := m["POSTGRES_PORT"]; ok && v != "" {
			cfg.PostgresPort = v
		}
	}
	if v, err := sm.GetSecret(ctx, SecretEsewaKey); err == nil && v != "" {
		cfg.EsewaSecretKey = v
	}
	if v, err := sm.GetSecret(ctx, SecretKhaltiKey); err == nil && v != "" {
		cfg.KhaltiSecretKey = v
	}
}

// Validate checks settings that must be present for the service to start.
func (c *Config) Validate() error {
	switch c.OrderStore {
	case "postgres":
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
			return fmt.Errorf("database config incomplete")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when ORDER_STORE=mongo")
		}
	default:
		return fmt.Errorf("unsupported ORDER_STORE %q", c.OrderStore)
	}

	switch c.StagingBackend {
	case "redis", "dynamodb":
	default:
		return fmt.Errorf("unsupported STAGING_BACKEND %q", c.StagingBackend)
	}

	switch c.EventBus {
	case "none":
	case "sns":
		if c.OrderSNSTopicArn == "" {
			return fmt.Errorf("ORDER_SNS_TOPIC_ARN is required when EVENT_BUS=sns")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BUS=kafka")
		}
	default:
		return fmt.Errorf("unsupported EVENT_BUS %q", c.EventBus)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("CALLBACK_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
