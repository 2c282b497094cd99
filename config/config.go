package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Backend identifies a token storage backend.
type Backend string

const (
	// BackendSQLite stores tokens in a local SQLite database (default).
	BackendSQLite Backend = "sqlite"
	// BackendRedis stores tokens in a Redis instance.
	BackendRedis Backend = "redis"
)

// DataPaths holds data directory and file path configuration.
// These paths can be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (AEGIS_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (AEGIS_SQLITE_PATH, default: ${DataDir}/aegis.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the Aegis service.
type Config struct {
	// DataPaths holds all data directory configuration
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Port                 int      `mapstructure:"port"`
		TLS                  bool     `mapstructure:"tls"`
		CertFile             string   `mapstructure:"cert_file"`
		KeyFile              string   `mapstructure:"key_file"`
		AllowedOrigins       []string `mapstructure:"allowed_origins"`
		TrustProxy           bool     `mapstructure:"trust_proxy"`
		TrustedProxyNetworks []string `mapstructure:"trusted_proxy_networks"`
		RateLimit            struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	// Auth protects the admin surface (manual sweep) with basic auth.
	Auth struct {
		Enabled        bool   `mapstructure:"enabled"`
		Username       string `mapstructure:"username"`
		Password       string `mapstructure:"password"`
		HashedPassword string
		BcryptCost     int `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	// CSRF controls the token lifecycle subsystem.
	CSRF struct {
		// Enabled composes the CSRF middleware and issuance endpoint into the
		// API when true. When false the subsystem is absent from the pipeline
		// entirely, not a pass-through.
		Enabled bool `mapstructure:"enabled"`
		// TokenExpiration is the TTL applied to every issued token.
		TokenExpiration time.Duration `mapstructure:"token_expiration"`
		// ClientHeader carries the client identifier on protected requests.
		ClientHeader string `mapstructure:"client_header"`
		// TokenHeader carries the anti-forgery token on protected requests.
		TokenHeader string `mapstructure:"token_header"`
		// CleanupInterval is how often the retention manager sweeps expired tokens.
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"csrf"`

	Storage struct {
		Backend Backend `mapstructure:"backend"`
		Redis   struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			PoolSize int    `mapstructure:"pool_size"`
		} `mapstructure:"redis"`
	} `mapstructure:"storage"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.trusted_proxy_networks", []string{})
	viper.SetDefault("api.rate_limit.requests_per_second", 100)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.bcrypt_cost", 10)

	viper.SetDefault("csrf.enabled", true)
	viper.SetDefault("csrf.token_expiration", 1*time.Hour)
	viper.SetDefault("csrf.client_header", "X-Csrf-Client")
	viper.SetDefault("csrf.token_header", "X-Csrf-Token")
	viper.SetDefault("csrf.cleanup_interval", 1*time.Hour)

	viper.SetDefault("storage.backend", string(BackendSQLite))
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.pool_size", 10)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("AEGIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicit bindings for shorter, cleaner env var names
	_ = viper.BindEnv("data_paths.data_dir", "AEGIS_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "AEGIS_SQLITE_PATH")
	_ = viper.BindEnv("csrf.enabled", "AEGIS_CSRF_ENABLED")
	_ = viper.BindEnv("csrf.token_expiration", "AEGIS_CSRF_TOKEN_EXPIRATION")
}

// validateAndHash validates the configuration and hashes the admin password.
func validateAndHash(config *Config) error {
	if config.Auth.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.Password), config.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		config.Auth.HashedPassword = string(hashed)
		config.Auth.Password = "" // clear plain password
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetDataDir returns the resolved base data directory
func (c *Config) GetDataDir() string {
	if c.DataPaths.DataDir == "" {
		return "./data"
	}
	return c.DataPaths.DataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return c.GetDataDir() + "/aegis.db"
	}
	return c.DataPaths.SQLitePath
}

// validateConfig validates the configuration for security and correctness
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}

	if config.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be positive, got %d", config.API.RateLimit.RequestsPerSecond)
	}
	if config.API.RateLimit.Burst <= 0 {
		return fmt.Errorf("api.rate_limit.burst must be positive, got %d", config.API.RateLimit.Burst)
	}

	if config.Auth.Enabled && config.Auth.Username == "" {
		return fmt.Errorf("username cannot be empty when auth is enabled")
	}
	if config.Auth.Enabled && config.Auth.HashedPassword == "" {
		return fmt.Errorf("authentication enabled but no password set")
	}

	if config.CSRF.TokenExpiration <= 0 {
		return fmt.Errorf("csrf.token_expiration must be positive, got %v", config.CSRF.TokenExpiration)
	}
	if config.CSRF.TokenExpiration < 1*time.Minute {
		return fmt.Errorf("csrf.token_expiration must be at least 1 minute, got %v", config.CSRF.TokenExpiration)
	}
	if config.CSRF.ClientHeader == "" || config.CSRF.TokenHeader == "" {
		return fmt.Errorf("csrf.client_header and csrf.token_header cannot be empty")
	}
	if config.CSRF.CleanupInterval < 1*time.Minute {
		return fmt.Errorf("csrf.cleanup_interval must be at least 1 minute, got %v", config.CSRF.CleanupInterval)
	}

	switch config.Storage.Backend {
	case BackendSQLite:
		// Path resolution handled by GetSQLitePath
	case BackendRedis:
		if config.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr cannot be empty when redis backend is selected")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q (must be sqlite or redis)", config.Storage.Backend)
	}

	return nil
}
