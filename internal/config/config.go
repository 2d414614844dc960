package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Engine
	Engine  EngineConfig
	Pricing PricingConfig
	Store   StoreConfig
	Notify  NotifyConfig

	// Surfaces
	WSGateway WSGatewayConfig
	API       APIConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// EngineConfig holds evaluation scheduler configuration
type EngineConfig struct {
	Enabled      bool
	Interval     time.Duration
	InitialDelay time.Duration
	FetchTimeout time.Duration
	MaxCycleTime time.Duration
	SoundEnabled bool
	HistoryLimit int
}

// PricingConfig selects and tunes the price source
type PricingConfig struct {
	Source    string // "mock", "redis" or "stream"
	KeyPrefix string
	MaxAge    time.Duration // 0 disables the staleness check
	StreamURL string
}

// StoreConfig selects the rule repository
type StoreConfig struct {
	Type      string // "memory", "redis" or "postgres"
	KeyPrefix string
}

// NotifyConfig selects notification sinks
type NotifyConfig struct {
	Channels     []string // any of "log", "redis", "ws"
	RedisChannel string
	RedisStream  string
}

// WSGatewayConfig holds WebSocket gateway configuration
type WSGatewayConfig struct {
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	PingInterval          time.Duration
	MaxConnections        int
	MaxConnectionsPerUser int // 0 means unlimited
	JWTSecret             string
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port         int
	JWTSecret    string
	RateLimitRPS int
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "price_alerts"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
		},
		Engine: EngineConfig{
			Enabled:      getEnvAsBool("ENGINE_ENABLED", true),
			Interval:     getEnvAsDuration("ENGINE_INTERVAL", 30*time.Second),
			InitialDelay: getEnvAsDuration("ENGINE_INITIAL_DELAY", 2*time.Second),
			FetchTimeout: getEnvAsDuration("ENGINE_FETCH_TIMEOUT", 10*time.Second),
			MaxCycleTime: getEnvAsDuration("ENGINE_MAX_CYCLE_TIME", 5*time.Second),
			SoundEnabled: getEnvAsBool("ENGINE_SOUND_ENABLED", true),
			HistoryLimit: getEnvAsInt("ENGINE_HISTORY_LIMIT", 50),
		},
		Pricing: PricingConfig{
			Source:    getEnv("PRICE_SOURCE", "mock"),
			KeyPrefix: getEnv("PRICE_KEY_PREFIX", "price:"),
			MaxAge:    getEnvAsDuration("PRICE_MAX_AGE", 0),
			StreamURL: getEnv("PRICE_STREAM_URL", ""),
		},
		Store: StoreConfig{
			Type:      getEnv("RULE_STORE", "memory"),
			KeyPrefix: getEnv("RULE_STORE_KEY_PREFIX", "alerts:"),
		},
		Notify: NotifyConfig{
			Channels:     getEnvAsStringSlice("NOTIFY_CHANNEL", []string{"log", "ws"}),
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", "alerts.notifications"),
			RedisStream:  getEnv("NOTIFY_REDIS_STREAM", ""),
		},
		WSGateway: WSGatewayConfig{
			ReadTimeout:           getEnvAsDuration("WS_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:          getEnvAsDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:          getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			MaxConnections:        getEnvAsInt("WS_MAX_CONNECTIONS", 1000),
			MaxConnectionsPerUser: getEnvAsInt("WS_MAX_CONNECTIONS_PER_USER", 5),
			JWTSecret:             getEnv("WS_JWT_SECRET", ""),
		},
		API: APIConfig{
			Port:         getEnvAsInt("API_PORT", 8090),
			JWTSecret:    getEnv("API_JWT_SECRET", ""),
			RateLimitRPS: getEnvAsInt("API_RATE_LIMIT_RPS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("ENGINE_INTERVAL must be positive")
	}
	if c.Engine.InitialDelay < 0 {
		return fmt.Errorf("ENGINE_INITIAL_DELAY must not be negative")
	}
	if c.Engine.FetchTimeout <= 0 {
		return fmt.Errorf("ENGINE_FETCH_TIMEOUT must be positive")
	}
	if c.Engine.HistoryLimit <= 0 {
		return fmt.Errorf("ENGINE_HISTORY_LIMIT must be positive")
	}

	switch c.Pricing.Source {
	case "mock":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required when PRICE_SOURCE=redis")
		}
	case "stream":
		if c.Pricing.StreamURL == "" {
			return fmt.Errorf("PRICE_STREAM_URL is required when PRICE_SOURCE=stream")
		}
	default:
		return fmt.Errorf("unknown PRICE_SOURCE %q", c.Pricing.Source)
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required when RULE_STORE=redis")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required when RULE_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown RULE_STORE %q", c.Store.Type)
	}

	for _, ch := range c.Notify.Channels {
		switch ch {
		case "log", "ws":
		case "redis":
			if c.Notify.RedisChannel == "" {
				return fmt.Errorf("NOTIFY_REDIS_CHANNEL is required when NOTIFY_CHANNEL includes redis")
			}
		default:
			return fmt.Errorf("unknown NOTIFY_CHANNEL entry %q", ch)
		}
	}

	return nil
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	if c.Pricing.Source == "redis" || c.Store.Type == "redis" {
		return true
	}
	return c.NotifyEnabled("redis")
}

// NotifyEnabled reports whether a notification channel is configured
func (c *Config) NotifyEnabled(channel string) bool {
	for _, ch := range c.Notify.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
