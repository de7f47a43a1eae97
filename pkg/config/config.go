package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Brokerage
	Alpaca AlpacaConfig

	// Order lifecycle
	Sync SyncConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// AlpacaConfig holds Alpaca trading API configuration
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	Paper     bool   // paper trading account
	BaseURL   string // REST endpoint, derived from Paper when empty
	StreamURL string // trade_updates websocket, derived from Paper when empty

	// RateLimit is the REST budget in requests per minute
	RateLimit int
}

// SyncConfig holds order lifecycle parameters
type SyncConfig struct {
	Schedule        string        // cron expression (with seconds) for the sync-all job
	ForceSellLead   time.Duration // force sell this long before market close
	TargetProfitPct float64
	StopLossPct     float64
}

const (
	alpacaPaperURL       = "https://paper-api.alpaca.markets"
	alpacaLiveURL        = "https://api.alpaca.markets"
	alpacaPaperStreamURL = "wss://paper-api.alpaca.markets/stream"
	alpacaLiveStreamURL  = "wss://api.alpaca.markets/stream"
)

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "orderdesk"),
			User:            getEnv("DB_USER", "orderdesk"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		// Brokerage
		Alpaca: AlpacaConfig{
			APIKey:    getEnv("ALPACA_API_KEY", ""),
			SecretKey: getEnv("ALPACA_SECRET_KEY", ""),
			Paper:     getEnvAsBool("ALPACA_PAPER", true),
			BaseURL:   getEnv("ALPACA_BASE_URL", ""),
			StreamURL: getEnv("ALPACA_STREAM_URL", ""),
			RateLimit: getEnvAsInt("ALPACA_RATE_LIMIT", 200),
		},

		// Order lifecycle
		Sync: SyncConfig{
			Schedule:        getEnv("ORDER_SYNC_SCHEDULE", "0 */1 * * * *"),
			ForceSellLead:   getEnvAsDuration("ORDER_FORCE_SELL_LEAD", "30m"),
			TargetProfitPct: getEnvAsFloat("ORDER_TARGET_PROFIT_PCT", 5),
			StopLossPct:     getEnvAsFloat("ORDER_STOP_LOSS_PCT", 5),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	cfg.Alpaca.applyDefaults()

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills endpoints from the paper/live switch
func (a *AlpacaConfig) applyDefaults() {
	if a.BaseURL == "" {
		a.BaseURL = alpacaLiveURL
		if a.Paper {
			a.BaseURL = alpacaPaperURL
		}
	}
	if a.StreamURL == "" {
		a.StreamURL = alpacaLiveStreamURL
		if a.Paper {
			a.StreamURL = alpacaPaperStreamURL
		}
	}
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Database URL is required
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Alpaca.RateLimit <= 0 {
		return fmt.Errorf("ALPACA_RATE_LIMIT must be positive")
	}

	if c.Sync.TargetProfitPct <= 0 || c.Sync.TargetProfitPct >= 100 {
		return fmt.Errorf("ORDER_TARGET_PROFIT_PCT must be between 0 and 100")
	}
	if c.Sync.StopLossPct <= 0 || c.Sync.StopLossPct >= 100 {
		return fmt.Errorf("ORDER_STOP_LOSS_PCT must be between 0 and 100")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env",         // Current directory
		"backend/.env", // From project root
	}

	// Also try relative to executable
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
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
