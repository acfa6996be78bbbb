package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process-level configuration for tradeflow
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
//
// Strategy parameters (rules, rebalance constraints, backtest costs) live in
// the strategy YAML loaded by internal/strategyconfig; this struct only knows
// where that file is.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Strategy
	StrategyConfigPath string

	// Paths
	CuratedDir string
	ReportsDir string

	// Database (optional: persistence disabled when URL is empty)
	Database DatabaseConfig

	// Redis (optional curated-frame cache)
	Redis RedisConfig

	// API
	APIRateLimit float64 // requests per second, 0 = unlimited
	APIBurst     int

	// Scheduler
	DailySchedule string // cron expression with seconds field

	// Outbound HTTP (notification webhooks)
	HTTPClient HTTPClientConfig

	// SMTP transport for email notifications; recipients live in the strategy YAML
	SMTP SMTPConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
	TTL      time.Duration
}

// HTTPClientConfig holds outbound HTTP client configuration
type HTTPClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// SMTPConfig holds the email transport; empty Host disables real delivery
type SMTPConfig struct {
	Sender   string
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a database URL has been configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		StrategyConfigPath: getEnv("STRATEGY_CONFIG", "config/strategy.yaml"),
		CuratedDir:         getEnv("CURATED_DIR", "data/curated"),
		ReportsDir:         getEnv("REPORTS_DIR", "reports"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			TTL:      getEnvAsDuration("REDIS_TTL", "24h"),
		},

		APIRateLimit: getEnvAsFloat("API_RATE_LIMIT", 20),
		APIBurst:     getEnvAsInt("API_BURST", 40),

		DailySchedule: getEnv("SCHEDULE_DAILY", "0 30 18 * * MON-FRI"),

		HTTPClient: HTTPClientConfig{
			Timeout:    getEnvAsDuration("HTTP_TIMEOUT", "10s"),
			MaxRetries: getEnvAsInt("HTTP_MAX_RETRIES", 3),
			RetryDelay: getEnvAsDuration("HTTP_RETRY_DELAY", "1s"),
		},

		SMTP: SMTPConfig{
			Sender:   getEnv("EMAIL_SENDER", ""),
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			StartTLS: getEnvAsBool("SMTP_STARTTLS", true),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are consistent
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}
	if c.StrategyConfigPath == "" {
		return fmt.Errorf("STRATEGY_CONFIG is required")
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must be >= 0")
	}
	if c.HTTPClient.MaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES must be >= 0")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be <= DB_MAX_CONNS")
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
