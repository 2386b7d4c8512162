package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	KYC         KYCConfig         `mapstructure:"kyc"`
	Downstream  DownstreamConfig  `mapstructure:"downstream"`
	Payments    PaymentsConfig    `mapstructure:"payments"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// StoreConfig selects the Transaction Store backing.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, postgres
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type MongoConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// GatewayConfig configures the upstream payment providers.
type GatewayConfig struct {
	AttemptTimeout time.Duration             `mapstructure:"attempt_timeout"`
	Providers      map[string]ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"` // 0 = uncapped
	Jitter      bool          `mapstructure:"jitter"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"` // shared HMAC secret with the payment hub
}

// KYCConfig locates the KYC provider used during customer registration.
type KYCConfig struct {
	BaseURL       string `mapstructure:"base_url"` // empty = customers are stored without submission
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// DownstreamConfig configures delivery of confirmed status changes to the system of record.
type DownstreamConfig struct {
	Driver     string        `mapstructure:"driver"` // none, http, amqp
	URL        string        `mapstructure:"url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	AMQPURL    string        `mapstructure:"amqp_url"`
	Exchange   string        `mapstructure:"exchange"`
	RoutingKey string        `mapstructure:"routing_key"`
}

type PaymentsConfig struct {
	Currencies  []string `mapstructure:"currencies"`
	FixedAmount int64    `mapstructure:"fixed_amount"` // 0 = any positive amount
}

type IdempotencyConfig struct {
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	CompletedTTL  time.Duration `mapstructure:"completed_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PCB_ (Payment Collection Broker).
// Nested keys use underscore: PCB_DATABASE_HOST, PCB_WEBHOOK_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_broker")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "payment_broker")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "payment-collection-broker")
	v.SetDefault("gateway.attempt_timeout", "5s")
	v.SetDefault("gateway.providers", map[string]any{})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "0s")
	v.SetDefault("retry.jitter", false)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("kyc.base_url", "")
	v.SetDefault("kyc.api_key", "")
	v.SetDefault("kyc.webhook_secret", "")
	v.SetDefault("downstream.driver", "none")
	v.SetDefault("downstream.timeout", "10s")
	v.SetDefault("downstream.exchange", "payments")
	v.SetDefault("downstream.routing_key", "payment.status.changed")
	v.SetDefault("payments.currencies", []string{"KES"})
	v.SetDefault("payments.fixed_amount", 0)
	v.SetDefault("idempotency.in_progress_ttl", "30s")
	v.SetDefault("idempotency.completed_ttl", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PCB_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PCB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Downstream.Driver {
	case "none", "http", "amqp":
	default:
		return fmt.Errorf("unsupported downstream driver %q", c.Downstream.Driver)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	return nil
}
