package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	StoreBackend   string
	CartKey        string
	CartTTL        time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MongoURI       string
	MongoDBName    string
	PostgresDSN    string
	SQLitePath     string
	MigrationsPath string

	CatalogURL         string
	CatalogTimeout     time.Duration
	CatalogSeedFile    string
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	KafkaBrokers       []string
	NotificationsTopic string
	CheckoutTopic      string
	KafkaGroupID       string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	PersistTimeout  time.Duration
	SessionIdleTTL  time.Duration
	HealthInterval  time.Duration

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// Load reads the environment, after merging an optional .env file from the
// working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	p := &parser{}
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50052"),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		CartKey:        getEnv("CART_KEY", "@Storefront:cart"),
		CartTTL:        p.duration("CART_TTL", 720*time.Hour),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        p.int("REDIS_DB", 0),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:    getEnv("MONGO_DB_NAME", "cartdb"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "cart.db"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/store/migrations"),

		CatalogURL:         getEnv("CATALOG_URL", ""),
		CatalogTimeout:     p.duration("CATALOG_TIMEOUT", 5*time.Second),
		CatalogSeedFile:    getEnv("CATALOG_SEED_FILE", ""),
		BreakerMaxFailures: uint32(p.int("BREAKER_MAX_FAILURES", 5)),
		BreakerOpenTimeout: p.duration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		NotificationsTopic: getEnv("NOTIFICATIONS_TOPIC", "cart-notifications"),
		CheckoutTopic:      getEnv("CHECKOUT_TOPIC", "checkout-outbox"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "storefront-cart"),

		RequestTimeout:  p.duration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		PersistTimeout:  p.duration("PERSIST_TIMEOUT", 2*time.Second),
		SessionIdleTTL:  p.duration("SESSION_IDLE_TTL", 30*time.Minute),
		HealthInterval:  p.duration("HEALTH_INTERVAL", 10*time.Second),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendMongo, BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.CartKey == "" {
		return fmt.Errorf("CART_KEY is required")
	}
	if c.CartTTL < 0 {
		return fmt.Errorf("CART_TTL must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"CATALOG_TIMEOUT":      c.CatalogTimeout,
		"BREAKER_OPEN_TIMEOUT": c.BreakerOpenTimeout,
		"REQUEST_TIMEOUT":      c.RequestTimeout,
		"SHUTDOWN_TIMEOUT":     c.ShutdownTimeout,
		"PERSIST_TIMEOUT":      c.PersistTimeout,
		"HEALTH_INTERVAL":      c.HealthInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must not be negative")
	}
	if c.SessionIdleTTL > 0 && c.SessionIdleTTL <= c.RequestTimeout {
		return fmt.Errorf("SESSION_IDLE_TTL must be longer than REQUEST_TIMEOUT")
	}
	if c.BreakerMaxFailures == 0 {
		return fmt.Errorf("BREAKER_MAX_FAILURES must be positive")
	}

	return nil
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s must be number: %w", key, err)
	}
	if i < 0 && p.err == nil {
		p.err = fmt.Errorf("%s must not be negative", key)
	}
	return i
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
