package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	RateLimit     RateLimitConfig
	Providers     ProvidersConfig
	Breakers      BreakersConfig
	Fallback      FallbackConfig
	Sentry        SentryConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Enabled            bool
	ConnectionString   string // From DATABASE_URL when set
	Host               string
	Port               int
	User               string
	Password           string
	Database           string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	StatementTimeout   time.Duration
	LockTimeout        time.Duration
	SlowQueryThreshold time.Duration

	// Retention is how long inference records are kept; zero keeps them forever
	Retention time.Duration
}

// RedisConfig holds Redis connection configuration. An empty URL disables Redis.
type RedisConfig struct {
	URL         string
	PoolSize    int
	DialTimeout time.Duration
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Prefix           string
	DefaultTTL       time.Duration
	UsageTTL         time.Duration
	MemoryMaxEntries int
}

// RateLimitConfig holds request rate limiting configuration
type RateLimitConfig struct {
	Enabled       bool
	DefaultLimits string
	ChatLimits    string
	Storage       string // redis or memory
	KeyPrefix     string
}

// ProviderConfig holds the settings of one LLM provider
type ProviderConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Primary   string
	Fallbacks []string
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	FailMax      int
	ResetTimeout time.Duration
}

// BreakersConfig holds the breaker settings per protected dependency
type BreakersConfig struct {
	Provider BreakerConfig
	Database BreakerConfig
}

// FallbackConfig holds fallback sequence settings
type FallbackConfig struct {
	SequenceTimeout time.Duration
}

// SentryConfig holds error tracking configuration
type SentryConfig struct {
	DSN              string
	TracesSampleRate float64
	Release          string
}

// SecurityConfig holds secrets used by the HTTP layer
type SecurityConfig struct {
	SecretKey string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 150*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			Prefix:           getEnv("CACHE_PREFIX", "biped:"),
			DefaultTTL:       getEnvAsDuration("CACHE_DEFAULT_TTL", time.Hour),
			UsageTTL:         getEnvAsDuration("CACHE_USAGE_TTL", 5*time.Minute),
			MemoryMaxEntries: getEnvAsInt("CACHE_MEMORY_MAX_ENTRIES", 10000),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATELIMIT_ENABLED", true),
			DefaultLimits: getEnv("RATELIMIT_DEFAULT", "1000 per hour;100 per minute"),
			ChatLimits:    getEnv("RATELIMIT_CHAT", "10 per minute"),
			Storage:       getEnv("RATELIMIT_STORAGE", "redis"),
			KeyPrefix:     getEnv("RATELIMIT_KEY_PREFIX", "ratelimit:"),
		},
		Providers: ProvidersConfig{
			OpenAI:    loadProviderConfig("OPENAI", "https://api.openai.com/v1/", "gpt-4"),
			Anthropic: loadProviderConfig("ANTHROPIC", "https://api.anthropic.com", "claude-3-sonnet-20240229"),
			Primary:   getEnv("PRIMARY_PROVIDER", "openai"),
			Fallbacks: getEnvAsList("FALLBACK_PROVIDERS", nil),
		},
		Breakers: BreakersConfig{
			Provider: BreakerConfig{
				FailMax:      getEnvAsInt("PROVIDER_BREAKER_FAIL_MAX", 5),
				ResetTimeout: getEnvAsDuration("PROVIDER_BREAKER_RESET_TIMEOUT", 60*time.Second),
			},
			Database: BreakerConfig{
				FailMax:      getEnvAsInt("DATABASE_BREAKER_FAIL_MAX", 3),
				ResetTimeout: getEnvAsDuration("DATABASE_BREAKER_RESET_TIMEOUT", 30*time.Second),
			},
		},
		Fallback: FallbackConfig{
			SequenceTimeout: getEnvAsDuration("FALLBACK_SEQUENCE_TIMEOUT", 120*time.Second),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			TracesSampleRate: getEnvAsFloat("SENTRY_TRACES_SAMPLE_RATE", 0.1),
			Release:          getEnv("SENTRY_RELEASE", ""),
		},
		Security: SecurityConfig{
			SecretKey: getEnv("SECRET_KEY", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", ""),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
		if cfg.IsDevelopment() {
			cfg.Observability.LogFormat = "console"
		}
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database retention must not be negative")
	}

	if err := validProvider(c.Providers.Primary); err != nil {
		return fmt.Errorf("primary provider: %w", err)
	}
	for _, name := range c.Providers.Fallbacks {
		if err := validProvider(name); err != nil {
			return fmt.Errorf("fallback provider: %w", err)
		}
	}

	for name, p := range map[string]ProviderConfig{"openai": c.Providers.OpenAI, "anthropic": c.Providers.Anthropic} {
		if p.Timeout <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("%s max retries must not be negative", name)
		}
		if p.RequestsPerSecond < 0 {
			return fmt.Errorf("%s requests per second must not be negative", name)
		}
	}

	if c.Breakers.Provider.FailMax <= 0 || c.Breakers.Database.FailMax <= 0 {
		return fmt.Errorf("circuit breaker fail max must be positive")
	}

	switch c.RateLimit.Storage {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid rate limit storage %q", c.RateLimit.Storage)
	}
	// clearing the cache must not reset counters sharing the same Redis
	if c.Cache.Prefix != "" && strings.HasPrefix(c.RateLimit.KeyPrefix, c.Cache.Prefix) {
		return fmt.Errorf("rate limit key prefix %q must not start with the cache prefix %q", c.RateLimit.KeyPrefix, c.Cache.Prefix)
	}

	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		return fmt.Errorf("sentry traces sample rate must be between 0 and 1")
	}

	// Provider validation (at least one provider API key required in production)
	if c.IsProduction() {
		if c.Providers.OpenAI.APIKey == "" && c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
		if c.Security.SecretKey == "" {
			return fmt.Errorf("secret key is required in production")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func validProvider(name string) error {
	switch name {
	case "openai", "anthropic":
		return nil
	}
	return fmt.Errorf("unsupported provider %q", name)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
// Session timeouts are passed through the options parameter.
func (c *DatabaseConfig) DSN() string {
	options := c.sessionOptions()
	if c.ConnectionString != "" {
		if options == "" {
			return c.ConnectionString
		}
		u, err := url.Parse(c.ConnectionString)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return c.ConnectionString
		}
		q := u.Query()
		if q.Get("options") == "" {
			q.Set("options", options)
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
	if options != "" {
		dsn += fmt.Sprintf(" options='%s'", options)
	}
	return dsn
}

func (c *DatabaseConfig) sessionOptions() string {
	var opts []string
	if c.StatementTimeout > 0 {
		opts = append(opts, fmt.Sprintf("-c statement_timeout=%d", c.StatementTimeout.Milliseconds()))
	}
	if c.LockTimeout > 0 {
		opts = append(opts, fmt.Sprintf("-c lock_timeout=%d", c.LockTimeout.Milliseconds()))
	}
	return strings.Join(opts, " ")
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Persistence is disabled when neither DATABASE_URL nor DB_HOST is set.
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:       getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:       getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime:    getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		StatementTimeout:   getEnvAsDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
		LockTimeout:        getEnvAsDuration("DB_LOCK_TIMEOUT", 10*time.Second),
		SlowQueryThreshold: getEnvAsDuration("DB_SLOW_QUERY_THRESHOLD", time.Second),
		Retention:          getEnvAsDuration("DB_RETENTION", 30*24*time.Hour),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.Enabled = true
		cfg.ConnectionString = dbURL
		return cfg
	}

	cfg.Host = getEnv("DB_HOST", "")
	cfg.Enabled = cfg.Host != ""
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "biped")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "biped")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// loadProviderConfig loads <PREFIX>_API_KEY, <PREFIX>_API_BASE_URL, <PREFIX>_MODEL and friends
func loadProviderConfig(prefix, baseURL, model string) ProviderConfig {
	return ProviderConfig{
		APIKey:            getEnv(prefix+"_API_KEY", ""),
		BaseURL:           getEnv(prefix+"_API_BASE_URL", baseURL),
		Model:             getEnv(prefix+"_MODEL", model),
		Timeout:           getEnvAsDuration(prefix+"_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvAsInt(prefix+"_MAX_RETRIES", 3),
		RequestsPerSecond: getEnvAsFloat(prefix+"_REQUESTS_PER_SECOND", 0),
		Burst:             getEnvAsInt(prefix+"_BURST", 1),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 5000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 5000
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
