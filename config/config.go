// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Gateway  GatewayConfig
	Guard    GuardConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Workers  WorkersConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Driver   string // postgres | memory
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
	Migrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type GatewayConfig struct {
	BaseURL     string
	SecretKey   string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type GuardConfig struct {
	LeaseTTL     time.Duration
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type LedgerConfig struct {
	DefaultCurrency string
	RecentTxLimit   int
	MinWithdrawal   int64
}

type WorkersConfig struct {
	SweepInterval          time.Duration
	DisputeEscalationAfter time.Duration
	OutboxInterval         time.Duration
	OutboxBatch            int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8040"),
			Env:             getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "settlement"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 50)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
			Migrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			CacheTTL: getEnvDuration("BALANCE_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
			Brokers:      getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:        getEnv("KAFKA_TOPIC", "settlement.events"),
			BatchTimeout: getEnvDuration("KAFKA_BATCH_TIMEOUT", 50*time.Millisecond),
		},
		Gateway: GatewayConfig{
			BaseURL:     strings.TrimRight(getEnv("GATEWAY_BASE_URL", "https://api.tap.company/v2"), "/"),
			SecretKey:   getEnv("GATEWAY_SECRET_KEY", ""),
			Timeout:     getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			MaxAttempts: getEnvInt("GATEWAY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("GATEWAY_RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:    getEnvDuration("GATEWAY_RETRY_MAX_DELAY", 2*time.Second),
		},
		Guard: GuardConfig{
			LeaseTTL:     getEnvDuration("GUARD_LEASE_TTL", 45*time.Second),
			PollInterval: getEnvDuration("GUARD_POLL_INTERVAL", 150*time.Millisecond),
			WaitTimeout:  getEnvDuration("GUARD_WAIT_TIMEOUT", 50*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Ledger: LedgerConfig{
			DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "OMR")),
			RecentTxLimit:   getEnvInt("WALLET_RECENT_TX", 10),
			MinWithdrawal:   int64(getEnvInt("MIN_WITHDRAWAL_MINOR", 1)),
		},
		Workers: WorkersConfig{
			SweepInterval:          getEnvDuration("SWEEP_INTERVAL", time.Minute),
			DisputeEscalationAfter: getEnvDuration("DISPUTE_ESCALATION_AFTER", 14*24*time.Hour),
			OutboxInterval:         getEnvDuration("OUTBOX_INTERVAL", 2*time.Second),
			OutboxBatch:            getEnvInt("OUTBOX_BATCH", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool { return c.Server.Env == "development" }

// Validate rejects configurations that would start a service unable to verify payments.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver))
	}
	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Guard.LeaseTTL <= c.Gateway.Timeout {
		errs = append(errs, errors.New("GUARD_LEASE_TTL must exceed GATEWAY_TIMEOUT"))
	}
	if c.Guard.PollInterval <= 0 {
		errs = append(errs, errors.New("GUARD_POLL_INTERVAL must be positive"))
	}
	if c.Workers.OutboxBatch < 1 {
		errs = append(errs, errors.New("OUTBOX_BATCH must be at least 1"))
	}
	if !c.IsDevelopment() {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required outside development"))
		}
		if c.Gateway.SecretKey == "" {
			errs = append(errs, errors.New("GATEWAY_SECRET_KEY is required outside development"))
		}
		if c.Database.Driver == "memory" {
			errs = append(errs, errors.New("memory store is only allowed in development"))
		}
	}
	return errors.Join(errs...)
}

// DSN builds the pgx connection string, preferring DATABASE_URL when set.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
