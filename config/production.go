// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database    DatabaseConfig    `json:"database"`
	Server      ServerConfig      `json:"server"`
	Security    SecurityConfig    `json:"security"`
	JWT         JWTConfig         `json:"jwt"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	Cache       CacheConfig       `json:"cache"`
	Deployment  DeploymentConfig  `json:"deployment"`
	Tracking    TrackingConfig    `json:"tracking"`
	Attribution AttributionConfig `json:"attribution"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	UTMify      UTMifyConfig      `json:"utmify"`
	Kafka       KafkaConfig       `json:"kafka"`
	Worker      WorkerConfig      `json:"worker"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	MigrationsPath  string        `json:"migrations_path"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// DSN returns the key/value connection string used by gorm
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL returns the postgres:// form used by golang-migrate
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableCompression bool          `json:"enable_compression"`
	ProxyHeader       string        `json:"proxy_header"`
	TrustedProxies    []string      `json:"trusted_proxies"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per minute
	AdminRateLimit  int           `json:"admin_rate_limit"`  // requests per minute
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Admin bootstrap key for minting admin tokens; empty disables the endpoint
	AdminBootstrapKey string `json:"-"`
}

type JWTConfig struct {
	SecretKey      string        `json:"-"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // json, text
	Output       string `json:"output"` // stdout, file, both
	FilePath     string `json:"file_path"`
	MaxSize      int    `json:"max_size"` // MB
	MaxBackups   int    `json:"max_backups"`
	MaxAge       int    `json:"max_age"` // days
	Compress     bool   `json:"compress"`
	EnableCaller bool   `json:"enable_caller"`

	// Access Logs
	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled             bool          `json:"enabled"`
	Provider            string        `json:"provider"` // redis, none
	RedisURL            string        `json:"redis_url"`
	RedisDB             int           `json:"redis_db"`
	RedisPrefix         string        `json:"redis_prefix"`
	ClickTTL            time.Duration `json:"click_ttl"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// TrackingConfig configures click capture endpoints
type TrackingConfig struct {
	TelegramBotURL string `json:"telegram_bot_url"`
}

// AttributionConfig configures the click-to-sale resolver
type AttributionConfig struct {
	IPWindow           time.Duration `json:"ip_window"`
	MinSubstringLength int           `json:"min_substring_length"`
	MonotonicStatus    bool          `json:"monotonic_status"`
}

// DispatchConfig configures outbound conversion dispatch
type DispatchConfig struct {
	Timeout            time.Duration `json:"timeout"`
	ClaimLease         time.Duration `json:"claim_lease"`
	MinorUnitThreshold float64       `json:"minor_unit_threshold"`
	Concurrency        int           `json:"concurrency"`
	FacebookAPIURL     string        `json:"facebook_api_url"`
	TikTokAPIURL       string        `json:"tiktok_api_url"`
	KwaiAPIURL         string        `json:"kwai_api_url"`
}

// UTMifyConfig configures the sales aggregator integration; empty APIKey disables it
type UTMifyConfig struct {
	APIKey string `json:"-"`
	APIURL string `json:"api_url"`
}

// Enabled reports whether the aggregator integration is configured
func (c UTMifyConfig) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

type KafkaConfig struct {
	Enabled         bool     `json:"enabled"`
	Brokers         []string `json:"brokers"`
	ChatTopic       string   `json:"chat_topic"`
	GroupID         string   `json:"group_id"`
	ConversionTopic string   `json:"conversion_topic"`
}

type WorkerConfig struct {
	Count        int           `json:"count"`
	QueueSize    int           `json:"queue_size"`
	DrainTimeout time.Duration `json:"drain_timeout"`
}

type SchedulerConfig struct {
	ClickRetention         time.Duration `json:"click_retention"` // 0 keeps clicks forever
	ClickRetentionInterval time.Duration `json:"click_retention_interval"`
	ClickRetentionBatch    int           `json:"click_retention_batch"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "relay"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			MigrationsPath:  getEnvString("DB_MIGRATIONS_PATH", "migrations"),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 10*1024*1024), // 10MB
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Forwarded-For"),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
		},
		Security: SecurityConfig{
			AllowedOrigins:    getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:    getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders:    getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}),
			AllowCredentials:  getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			GlobalRateLimit:   getEnvInt("GLOBAL_RATE_LIMIT", 6000),
			AdminRateLimit:    getEnvInt("ADMIN_RATE_LIMIT", 120),
			RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			AdminBootstrapKey: getEnvString("ADMIN_BOOTSTRAP_KEY", ""),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 12*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "conversion-relay"),
			Audience:       getEnvString("JWT_AUDIENCE", "conversion-relay-admin"),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Format:          getEnvString("LOG_FORMAT", "json"),
			Output:          getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:        getEnvString("LOG_FILE_PATH", "/var/log/relay/app.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableCaller:    getEnvBool("LOG_ENABLE_CALLER", false),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:             getEnvBool("CACHE_ENABLED", false),
			Provider:            getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:            getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:             getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:         getEnvString("CACHE_REDIS_PREFIX", "relay:"),
			ClickTTL:            getEnvDuration("CACHE_CLICK_TTL", 6*time.Hour),
			HealthCheckInterval: getEnvDuration("CACHE_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
		Tracking: TrackingConfig{
			TelegramBotURL: getEnvString("TELEGRAM_BOT_URL", "https://t.me/seu_bot"),
		},
		Attribution: AttributionConfig{
			IPWindow:           getEnvDuration("ATTRIBUTION_IP_WINDOW", 1*time.Hour),
			MinSubstringLength: getEnvInt("ATTRIBUTION_MIN_SUBSTRING_LEN", 6),
			MonotonicStatus:    getEnvBool("SALE_STATUS_MONOTONIC", true),
		},
		Dispatch: DispatchConfig{
			Timeout:            getEnvDuration("DISPATCH_TIMEOUT", 12*time.Second),
			ClaimLease:         getEnvDuration("DISPATCH_CLAIM_LEASE", 2*time.Minute),
			MinorUnitThreshold: getEnvFloat("DISPATCH_MINOR_UNIT_THRESHOLD", 10000),
			Concurrency:        getEnvInt("DISPATCH_CONCURRENCY", 4),
			FacebookAPIURL:     getEnvString("FACEBOOK_API_URL", "https://graph.facebook.com/v19.0"),
			TikTokAPIURL:       getEnvString("TIKTOK_API_URL", "https://business-api.tiktok.com/open_api/v1.3/pixel/track/"),
			KwaiAPIURL:         getEnvString("KWAI_API_URL", "https://www.adsnebula.com/log/common/api"),
		},
		UTMify: UTMifyConfig{
			APIKey: getEnvString("UTMIFY_API_KEY", ""),
			APIURL: getEnvString("UTMIFY_API_URL", "https://api.utmify.com.br/api-credentials/orders"),
		},
		Kafka: KafkaConfig{
			Enabled:         getEnvBool("KAFKA_ENABLED", false),
			Brokers:         getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ChatTopic:       getEnvString("KAFKA_CHAT_TOPIC", "chat-messages"),
			GroupID:         getEnvString("KAFKA_GROUP_ID", "conversion-relay"),
			ConversionTopic: getEnvString("KAFKA_CONVERSION_TOPIC", ""),
		},
		Worker: WorkerConfig{
			Count:        getEnvInt("WORKER_COUNT", 8),
			QueueSize:    getEnvInt("WORKER_QUEUE_SIZE", 1024),
			DrainTimeout: getEnvDuration("WORKER_DRAIN_TIMEOUT", 20*time.Second),
		},
		Scheduler: SchedulerConfig{
			ClickRetention:         getEnvDuration("CLICK_RETENTION", 0),
			ClickRetentionInterval: getEnvDuration("CLICK_RETENTION_INTERVAL", 10*time.Minute),
			ClickRetentionBatch:    getEnvInt("CLICK_RETENTION_BATCH", 5000),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists.
// Variables already present in the environment win.
func loadEnvFile() error {
	envFile := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(envFile)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	// Validate JWT configuration
	if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate logging configuration
	validLevels := []string{"debug", "info", "warn", "error"}
	if cfg.Logging.Level != "" && !slices.Contains(validLevels, cfg.Logging.Level) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
	}
	validOutputs := []string{"stdout", "file", "both"}
	if !slices.Contains(validOutputs, cfg.Logging.Output) {
		errors = append(errors, fmt.Sprintf("LOG_OUTPUT must be one of: %v", validOutputs))
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		errors = append(errors, "LOG_FILE_PATH is required when logging to file")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled && cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
		errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
	}

	// Validate attribution and dispatch configuration
	if cfg.Attribution.IPWindow <= 0 {
		errors = append(errors, "ATTRIBUTION_IP_WINDOW must be positive")
	}
	if cfg.Attribution.MinSubstringLength < 1 {
		errors = append(errors, "ATTRIBUTION_MIN_SUBSTRING_LEN must be at least 1")
	}
	if cfg.Dispatch.Timeout <= 0 || cfg.Dispatch.Timeout > time.Minute {
		errors = append(errors, "DISPATCH_TIMEOUT must be between 0 and 1m")
	}
	if cfg.Dispatch.ClaimLease <= cfg.Dispatch.Timeout {
		errors = append(errors, "DISPATCH_CLAIM_LEASE must be longer than DISPATCH_TIMEOUT")
	}
	if cfg.Dispatch.MinorUnitThreshold <= 0 {
		errors = append(errors, "DISPATCH_MINOR_UNIT_THRESHOLD must be positive")
	}
	if cfg.Dispatch.Concurrency < 1 {
		errors = append(errors, "DISPATCH_CONCURRENCY must be at least 1")
	}

	// Validate kafka configuration if enabled
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errors = append(errors, "KAFKA_BROKERS is required when kafka is enabled")
		}
		if cfg.Kafka.ChatTopic == "" {
			errors = append(errors, "KAFKA_CHAT_TOPIC is required when kafka is enabled")
		}
	}

	// Validate background workers
	if cfg.Worker.Count < 1 {
		errors = append(errors, "WORKER_COUNT must be at least 1")
	}
	if cfg.Worker.QueueSize < 1 {
		errors = append(errors, "WORKER_QUEUE_SIZE must be at least 1")
	}
	if cfg.Scheduler.ClickRetention < 0 {
		errors = append(errors, "CLICK_RETENTION must not be negative")
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
