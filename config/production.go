// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Chat       ChatConfig       `json:"chat"`
	Email      EmailConfig      `json:"email"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Reconcile  ReconcileConfig  `json:"reconcile"`
	Realtime   RealtimeConfig   `json:"realtime"`
	Deployment DeploymentConfig `json:"deployment"`
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
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	// TLS/HTTPS
	TLSEnabled  bool   `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
	HSTSMaxAge  int    `json:"hsts_max_age"`

	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`
}

// JWTConfig holds the token verification settings. Tokens are issued by the
// identity service; this service only verifies them.
type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	PublicKey      string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys     bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

// ChatConfig configures the instant-chat notification provider
type ChatConfig struct {
	Provider string        `json:"provider"` // http, mock, disabled
	BaseURL  string        `json:"base_url"`
	APIKey   string        `json:"api_key"`
	SenderID string        `json:"sender_id"`
	Timeout  time.Duration `json:"timeout"`
}

// EmailConfig configures the email provider, either an HTTP API or plain SMTP
type EmailConfig struct {
	Provider  string        `json:"provider"` // http, smtp, mock, disabled
	APIURL    string        `json:"api_url"`
	APIKey    string        `json:"api_key"`
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	FromEmail string        `json:"from_email"`
	FromName  string        `json:"from_name"`
	UseTLS    bool          `json:"use_tls"`
	Timeout   time.Duration `json:"timeout"`
}

type LoggingConfig struct {
	Level            string `json:"level"`  // debug, info, warn, error
	Format           string `json:"format"` // json, text
	Output           string `json:"output"` // stdout, file, both
	FilePath         string `json:"file_path"`
	SchedulerLogPath string `json:"scheduler_log_path"`
	MaxSize          int    `json:"max_size"` // MB
	MaxBackups       int    `json:"max_backups"`
	MaxAge           int    `json:"max_age"` // days
	Compress         bool   `json:"compress"`
	EnableAccessLog  bool   `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	RedisURL    string `json:"redis_url"`
	RedisDB     int    `json:"redis_db"`
	RedisPrefix string `json:"redis_prefix"`
}

// DispatchConfig bounds the background dispatch pipeline
type DispatchConfig struct {
	QueueSize         int           `json:"queue_size"`
	Workers           int           `json:"workers"`
	LinkParallelism   int           `json:"link_parallelism"`
	RatePerSecond     float64       `json:"rate_per_second"`
	Burst             int           `json:"burst"`
	ProviderTimeout   time.Duration `json:"provider_timeout"`
	TaskTimeout       time.Duration `json:"task_timeout"`
	ManualBatchLimit  int           `json:"manual_batch_limit"`
	AllocationRetries int           `json:"allocation_retries"`
	AllocationBackoff time.Duration `json:"allocation_backoff"`
	LockTimeout       time.Duration `json:"lock_timeout"`
	DrainTimeout      time.Duration `json:"drain_timeout"`
}

// ReconcileConfig drives the periodic delivery status poller
type ReconcileConfig struct {
	Enabled     bool          `json:"enabled"`
	Schedule    string        `json:"schedule"` // cron spec, e.g. "@every 1m"
	BatchSize   int           `json:"batch_size"`
	Parallelism int           `json:"parallelism"`
	CallTimeout time.Duration `json:"call_timeout"`
	RunTimeout  time.Duration `json:"run_timeout"`
	OrphanAfter time.Duration `json:"orphan_after"`
	LockTTL     time.Duration `json:"lock_ttl"`
	MaxOrgs     int           `json:"max_orgs"`
}

// RealtimeConfig configures viewer push transports
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	SubscriberBuffer  int           `json:"subscriber_buffer"`
	WSEnabled         bool          `json:"ws_enabled"`
	WSHost            string        `json:"ws_host"`
	WSPort            int           `json:"ws_port"`
	WSAllowedOrigins  []string      `json:"ws_allowed_origins"`
	RedisChannel      string        `json:"redis_channel"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "leadrelay"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			TLSEnabled:       getEnvBool("TLS_ENABLED", false),
			TLSCertFile:      getEnvString("TLS_CERT_FILE", ""),
			TLSKeyFile:       getEnvString("TLS_KEY_FILE", ""),
			HSTSMaxAge:       getEnvInt("HSTS_MAX_AGE", 31536000), // 1 year
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Session-ID"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			PublicKey:      getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:     getEnvBool("JWT_USE_RSA_KEYS", false),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "leadrelay"),
			Audience:       getEnvString("JWT_AUDIENCE", "leadrelay-api"),
		},
		Chat: ChatConfig{
			Provider: getEnvString("CHAT_PROVIDER", "mock"),
			BaseURL:  getEnvString("CHAT_BASE_URL", ""),
			APIKey:   getEnvString("CHAT_API_KEY", ""),
			SenderID: getEnvString("CHAT_SENDER_ID", ""),
			Timeout:  getEnvDuration("CHAT_TIMEOUT", 30*time.Second),
		},
		Email: EmailConfig{
			Provider:  getEnvString("EMAIL_PROVIDER", "mock"),
			APIURL:    getEnvString("EMAIL_API_URL", ""),
			APIKey:    getEnvString("EMAIL_API_KEY", ""),
			Host:      getEnvString("EMAIL_HOST", ""),
			Port:      getEnvInt("EMAIL_PORT", 587),
			Username:  getEnvString("EMAIL_USERNAME", ""),
			Password:  getEnvString("EMAIL_PASSWORD", ""),
			FromEmail: getEnvString("EMAIL_FROM_EMAIL", "noreply@leadrelay.local"),
			FromName:  getEnvString("EMAIL_FROM_NAME", "LeadRelay"),
			UseTLS:    getEnvBool("EMAIL_USE_TLS", true),
			Timeout:   getEnvDuration("EMAIL_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:            getEnvString("LOG_LEVEL", "info"),
			Format:           getEnvString("LOG_FORMAT", "json"),
			Output:           getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:         getEnvString("LOG_FILE_PATH", "/var/log/leadrelay/app.log"),
			SchedulerLogPath: getEnvString("LOG_SCHEDULER_PATH", "/var/log/leadrelay/scheduler.log"),
			MaxSize:          getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:       getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:           getEnvInt("LOG_MAX_AGE", 30),
			Compress:         getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog:  getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "leadrelay:"),
		},
		Dispatch: DispatchConfig{
			QueueSize:         getEnvInt("DISPATCH_QUEUE_SIZE", 1024),
			Workers:           getEnvInt("DISPATCH_WORKERS", 8),
			LinkParallelism:   getEnvInt("DISPATCH_LINK_PARALLELISM", 4),
			RatePerSecond:     getEnvFloat("DISPATCH_RATE_PER_SECOND", 50),
			Burst:             getEnvInt("DISPATCH_BURST", 10),
			ProviderTimeout:   getEnvDuration("DISPATCH_PROVIDER_TIMEOUT", 30*time.Second),
			TaskTimeout:       getEnvDuration("DISPATCH_TASK_TIMEOUT", 2*time.Minute),
			ManualBatchLimit:  getEnvInt("DISPATCH_MANUAL_BATCH_LIMIT", 500),
			AllocationRetries: getEnvInt("ALLOCATION_RETRIES", 5),
			AllocationBackoff: getEnvDuration("ALLOCATION_BACKOFF", 50*time.Millisecond),
			LockTimeout:       getEnvDuration("ALLOCATION_LOCK_TIMEOUT", 2*time.Second),
			DrainTimeout:      getEnvDuration("DISPATCH_DRAIN_TIMEOUT", 20*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:     getEnvBool("RECONCILE_ENABLED", true),
			Schedule:    getEnvString("RECONCILE_SCHEDULE", "@every 1m"),
			BatchSize:   getEnvInt("RECONCILE_BATCH_SIZE", 100),
			Parallelism: getEnvInt("RECONCILE_PARALLELISM", 4),
			CallTimeout: getEnvDuration("RECONCILE_CALL_TIMEOUT", 15*time.Second),
			RunTimeout:  getEnvDuration("RECONCILE_RUN_TIMEOUT", 5*time.Minute),
			OrphanAfter: getEnvDuration("RECONCILE_ORPHAN_AFTER", 30*time.Minute),
			LockTTL:     getEnvDuration("RECONCILE_LOCK_TTL", 10*time.Minute),
			MaxOrgs:     getEnvInt("RECONCILE_MAX_ORGS", 1000),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: getEnvDuration("REALTIME_HEARTBEAT_INTERVAL", 25*time.Second),
			SubscriberBuffer:  getEnvInt("REALTIME_SUBSCRIBER_BUFFER", 64),
			WSEnabled:         getEnvBool("REALTIME_WS_ENABLED", true),
			WSHost:            getEnvString("REALTIME_WS_HOST", "0.0.0.0"),
			WSPort:            getEnvInt("REALTIME_WS_PORT", 8081),
			WSAllowedOrigins:  getEnvStringSlice("REALTIME_WS_ALLOWED_ORIGINS", []string{}),
			RedisChannel:      getEnvString("REALTIME_REDIS_CHANNEL", "leadrelay:realtime"),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads variables from path when it exists. Already-set variables win.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
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
	var errs []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Validate JWT configuration
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PublicKey == "" {
			errs = append(errs, "JWT_PUBLIC_KEY is required when JWT_USE_RSA_KEYS is set")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errs = append(errs, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.Issuer == "" {
		errs = append(errs, "JWT_ISSUER is required")
	}
	if cfg.JWT.Audience == "" {
		errs = append(errs, "JWT_AUDIENCE is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errs = append(errs, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate chat provider
	switch cfg.Chat.Provider {
	case "mock", "disabled":
	case "http":
		if cfg.Chat.BaseURL == "" {
			errs = append(errs, "CHAT_BASE_URL is required for the http chat provider")
		}
		if cfg.Chat.APIKey == "" {
			errs = append(errs, "CHAT_API_KEY is required for the http chat provider")
		}
	default:
		errs = append(errs, "CHAT_PROVIDER must be one of: http, mock, disabled")
	}

	// Validate email provider
	switch cfg.Email.Provider {
	case "mock", "disabled":
	case "http":
		if cfg.Email.APIURL == "" {
			errs = append(errs, "EMAIL_API_URL is required for the http email provider")
		}
		if cfg.Email.FromEmail == "" {
			errs = append(errs, "EMAIL_FROM_EMAIL is required for email configuration")
		}
	case "smtp":
		if cfg.Email.Host == "" {
			errs = append(errs, "EMAIL_HOST is required for the smtp email provider")
		}
		if cfg.Email.Username == "" {
			errs = append(errs, "EMAIL_USERNAME is required for the smtp email provider")
		}
		if cfg.Email.FromEmail == "" {
			errs = append(errs, "EMAIL_FROM_EMAIL is required for email configuration")
		}
	default:
		errs = append(errs, "EMAIL_PROVIDER must be one of: http, smtp, mock, disabled")
	}

	// Validate dispatch configuration
	if cfg.Dispatch.QueueSize <= 0 {
		errs = append(errs, "DISPATCH_QUEUE_SIZE must be positive")
	}
	if cfg.Dispatch.Workers <= 0 {
		errs = append(errs, "DISPATCH_WORKERS must be positive")
	}
	if cfg.Dispatch.AllocationRetries < 1 {
		errs = append(errs, "ALLOCATION_RETRIES must be at least 1")
	}
	if cfg.Dispatch.ProviderTimeout <= 0 {
		errs = append(errs, "DISPATCH_PROVIDER_TIMEOUT must be positive")
	}

	// Validate reconcile configuration
	if cfg.Reconcile.Enabled && cfg.Reconcile.Schedule == "" {
		errs = append(errs, "RECONCILE_SCHEDULE is required when reconciliation is enabled")
	}
	if cfg.Reconcile.BatchSize <= 0 || cfg.Reconcile.BatchSize > 100 {
		errs = append(errs, "RECONCILE_BATCH_SIZE must be between 1 and 100")
	}

	// Validate TLS configuration if enabled
	if cfg.Security.TLSEnabled {
		if cfg.Security.TLSCertFile == "" {
			errs = append(errs, "TLS_CERT_FILE is required when TLS is enabled")
		}
		if cfg.Security.TLSKeyFile == "" {
			errs = append(errs, "TLS_KEY_FILE is required when TLS is enabled")
		}
	}

	// Validate logging configuration
	validLevels := []string{"debug", "info", "warn", "error"}
	if cfg.Logging.Level != "" && !slices.Contains(validLevels, cfg.Logging.Level) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errs = append(errs, "CACHE_REDIS_URL is required when cache is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
