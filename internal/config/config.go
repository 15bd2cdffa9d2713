package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the accountability service
type Config struct {
	Environment string            `mapstructure:"environment"`
	Debug       bool              `mapstructure:"debug"`
	Server      ServerConfig      `mapstructure:"server"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EnforcementConfig contains contract enforcement configuration
type EnforcementConfig struct {
	Mode            string `mapstructure:"mode"` // monitor, enforce, disabled
	ContractPath    string `mapstructure:"contract_path"`
	RequireContract bool   `mapstructure:"require_contract"`
	WatchContracts  bool   `mapstructure:"watch_contracts"`
}

// ScoringConfig contains delivery score configuration
type ScoringConfig struct {
	PenaltyHalfLifeHours float64 `mapstructure:"penalty_half_life_hours"`
	PruneThreshold       float64 `mapstructure:"prune_threshold"`
	SnapshotScores       bool    `mapstructure:"snapshot_scores"`
}

// RateLimitConfig contains rate limiter backend configuration
type RateLimitConfig struct {
	Backend string `mapstructure:"backend"` // memory, redis
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuditConfig contains audit trail configuration
type AuditConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// AuthConfig contains token issuing and validation configuration
type AuthConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	JWTSecret     string              `mapstructure:"jwt_secret"`
	TokenDuration int                 `mapstructure:"token_duration"` // minutes
	Issuer        string              `mapstructure:"issuer"`
	Users         []UserCredential    `mapstructure:"users"`
	RoleGrants    map[string][]string `mapstructure:"role_grants"`
}

// UserCredential is one configured API user with a bcrypt password hash
type UserCredential struct {
	Username     string   `mapstructure:"username"`
	Email        string   `mapstructure:"email"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
	Permissions  []string `mapstructure:"permissions"`
}

// SchedulerConfig contains background job configuration
type SchedulerConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	ScoreSweepSchedule   string `mapstructure:"score_sweep_schedule"`
	PenaltyPruneSchedule string `mapstructure:"penalty_prune_schedule"`
	RetentionSchedule    string `mapstructure:"retention_schedule"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Load loads configuration from environment variables and config files
func Load() (Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/pactguard")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PACTGUARD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks configuration invariants that defaults cannot guarantee
func (c Config) Validate() error {
	switch c.Enforcement.Mode {
	case "monitor", "enforce", "disabled":
	default:
		return fmt.Errorf("invalid enforcement mode %q", c.Enforcement.Mode)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid rate limit backend %q", c.RateLimit.Backend)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled without jwt_secret")
	}
	if c.Scoring.PenaltyHalfLifeHours <= 0 {
		return fmt.Errorf("penalty_half_life_hours must be positive")
	}
	return nil
}

// GetDatabaseDSN builds the postgres connection string
func (c DatabaseConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode)
}

// GetRedisAddr builds the redis address
func (c RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8090)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	// Enforcement
	viper.SetDefault("enforcement.mode", "monitor")
	viper.SetDefault("enforcement.contract_path", "./config/contracts.yaml")
	viper.SetDefault("enforcement.require_contract", false)
	viper.SetDefault("enforcement.watch_contracts", true)

	// Scoring
	viper.SetDefault("scoring.penalty_half_life_hours", 24.0)
	viper.SetDefault("scoring.prune_threshold", 0.5)
	viper.SetDefault("scoring.snapshot_scores", false)

	// Rate limiting
	viper.SetDefault("rate_limit.backend", "memory")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Database
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "pactguard")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// Audit
	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.batch_size", 100)
	viper.SetDefault("audit.flush_interval", "5s")
	viper.SetDefault("audit.retention_days", 30)

	// Auth
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.token_duration", 60)
	viper.SetDefault("auth.issuer", "pactguard")

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.score_sweep_schedule", "@every 1m")
	viper.SetDefault("scheduler.penalty_prune_schedule", "@every 1h")
	viper.SetDefault("scheduler.retention_schedule", "@daily")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
