package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	StoreBackend       string
	DatabaseURL        string
	RedisURL           string
	RunMigrations      bool
	JWTSecret          string
	JWTIssuer          string
	CORSAllowedOrigins []string

	Pricing   PricingConfig
	Reserve   ReserveConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Kafka     KafkaConfig
	Notify    NotifyConfig
	Worker    WorkerConfig
	Obs       ObsConfig

	IdempotencyTTL  time.Duration
	CatalogCacheTTL time.Duration
}

// PricingConfig carries the tax rate and promo table location.
type PricingConfig struct {
	TaxRateBps     int64
	CurrencyCode   string
	PromoRulesFile string
}

// ReserveConfig bounds internal retries of the atomic commit.
type ReserveConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryJitter float64
}

// RateLimitConfig configures the booking endpoint limiters. Rate uses the
// "<limit>-<period>" format, e.g. "10-M".
type RateLimitConfig struct {
	Rate   string
	Window time.Duration
	Max    int
}

// BreakerConfig tunes the persistence circuit breaker.
type BreakerConfig struct {
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// KafkaConfig lists brokers for booking event publication. Empty disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NotifyConfig configures confirmation delivery.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	EmailFrom     string
	ReplayTTL     time.Duration
}

// WorkerConfig configures the background worker.
type WorkerConfig struct {
	Concurrency int
	LockTTL     time.Duration
}

// ObsConfig toggles logging, metrics and tracing.
type ObsConfig struct {
	LogFormat         string
	LogLevel          string
	EnablePrometheus  bool
	MetricsNamespace  string
	MetricsBuckets    string
	EnableTracing     bool
	TracingExporter   string
	OTLPEndpoint      string
	SamplingRatio     float64
	ReadyDBTimeout    time.Duration
	ReadyRedisTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		StoreBackend:       strings.ToLower(valueOrDefault(k.String("STORE_BACKEND"), BackendMemory)),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		RunMigrations:      parseBool(k.String("DB_RUN_MIGRATIONS")),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Pricing: PricingConfig{
			TaxRateBps:     int64(parseInt(k.String("PRICING_TAX_RATE_BPS"), 600)),
			CurrencyCode:   strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
			PromoRulesFile: strings.TrimSpace(k.String("PROMO_RULES_FILE")),
		},
		Reserve: ReserveConfig{
			MaxAttempts: parseInt(k.String("RESERVE_MAX_ATTEMPTS"), 3),
			RetryBase:   parseDuration(k.String("RESERVE_RETRY_BASE"), "25ms"),
			RetryJitter: parseFloat(k.String("RESERVE_RETRY_JITTER"), 0.2),
		},
		RateLimit: RateLimitConfig{
			Rate:   valueOrDefault(k.String("RATE_LIMIT_RESERVE"), "10-M"),
			Window: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
			Max:    parseInt(k.String("RATE_LIMIT_MAX"), 20),
		},
		Breaker: BreakerConfig{
			MinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
			FailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
			OpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
		},
		Kafka: KafkaConfig{
			Brokers: splitAndTrim(k.String("KAFKA_BROKERS")),
			Topic:   valueOrDefault(k.String("KAFKA_TOPIC"), "bookings.confirmed"),
		},
		Notify: NotifyConfig{
			WebhookURL:    strings.TrimSpace(k.String("NOTIFY_WEBHOOK_URL")),
			WebhookSecret: k.String("NOTIFY_WEBHOOK_SECRET"),
			EmailFrom:     valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "bookings@example.com"),
			ReplayTTL:     parseDuration(k.String("NOTIFY_REPLAY_TTL"), "24h"),
		},
		Worker: WorkerConfig{
			Concurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),
			LockTTL:     parseDuration(k.String("LOCK_TTL"), "30s"),
		},
		Obs: ObsConfig{
			LogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			EnablePrometheus:  parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "slots"),
			MetricsBuckets:    k.String("OBS_METRICS_BUCKETS_MS"),
			EnableTracing:     parseBool(k.String("OBS_ENABLE_TRACING")),
			TracingExporter:   valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:      valueOrDefault(k.String("OBS_OTLP_ENDPOINT"), "http://localhost:4318"),
			SamplingRatio:     parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			ReadyDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
			ReadyRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		},
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND %q is not one of memory, postgres, redis", c.StoreBackend)
	}
	if c.Pricing.TaxRateBps < 0 {
		return errors.New("PRICING_TAX_RATE_BPS must not be negative")
	}
	if c.Reserve.MaxAttempts < 1 {
		return errors.New("RESERVE_MAX_ATTEMPTS must be at least 1")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for the duration of a Load call.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
