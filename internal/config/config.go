package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
)

type Config struct {
	ServerPort     string
	InternalPort   string
	InternalAPIKey string
	LogLevel       string

	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	BoltPath    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LedgerURL      string
	LedgerAPIKey   string
	LedgerTimeout  time.Duration
	TreasuryWallet string
	LedgerChain    string
	LedgerToken    string
	ExplorerURL    string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	MaxConflictRetries int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		InternalPort:   getEnv("INTERNAL_PORT", "8081"),
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "password"),
		DBName:      getEnv("DB_NAME", "merchant_credit"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		BoltPath:    getEnv("BOLT_PATH", "credit.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		LedgerURL:      getEnv("LEDGER_URL", "http://localhost:9090"),
		LedgerAPIKey:   getEnv("LEDGER_API_KEY", ""),
		TreasuryWallet: getEnv("TREASURY_WALLET", ""),
		LedgerChain:    getEnv("LEDGER_CHAIN", "base"),
		LedgerToken:    getEnv("LEDGER_TOKEN", "USDC"),
		ExplorerURL:    getEnv("EXPLORER_URL", "https://basescan.org"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", "credit@localhost"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.MaxConflictRetries, err = getEnvInt("MAX_CONFLICT_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.LedgerTimeout, err = getEnvDuration("LEDGER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverBolt, DriverRedis:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.TreasuryWallet == "" {
		return fmt.Errorf("TREASURY_WALLET is required")
	}
	if c.LedgerURL == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}
	if c.InternalAPIKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY is required")
	}
	if c.InternalPort == c.ServerPort {
		return fmt.Errorf("INTERNAL_PORT must differ from SERVER_PORT")
	}
	if c.MaxConflictRetries < 1 {
		return fmt.Errorf("MAX_CONFLICT_RETRIES must be at least 1")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// getEnv fetches environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
