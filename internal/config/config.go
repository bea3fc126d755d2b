package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvStaging     = "staging"
	EnvProduction  = "production"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	envPrefix = "RX"

	devJWTSecret   = "dev-session-secret-not-for-production"
	devTokenSecret = "dev-verify-token-secret-not-for-production"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Log         LogConfig       `mapstructure:"log"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Token       TokenConfig     `mapstructure:"token"`
	Ledger      LedgerConfig    `mapstructure:"ledger"`
	Keys        KeysConfig      `mapstructure:"keys"`
	Directory   DirectoryConfig `mapstructure:"directory"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	CORS        CORSConfig      `mapstructure:"cors"`
	Outbox      OutboxConfig    `mapstructure:"outbox"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	QR          QRConfig        `mapstructure:"qr"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// DevHeaders accepts x-user-id / x-role instead of a bearer token.
	// Only allowed in development and test.
	DevHeaders bool `mapstructure:"dev_headers"`
}

type TokenConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type LedgerConfig struct {
	Path           string        `mapstructure:"path"`
	Network        string        `mapstructure:"network"`
	MaxFailures    int           `mapstructure:"max_failures"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

type KeysConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DirectoryConfig decides which directory rules gate prescription creation.
type DirectoryConfig struct {
	// EnforceAssignment only lets a doctor prescribe to assigned patients.
	EnforceAssignment bool `mapstructure:"enforce_assignment"`
	// EnforceCatalog requires every item to match a medication.
	EnforceCatalog bool `mapstructure:"enforce_catalog"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type OutboxConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type QRConfig struct {
	ImageSize int `mapstructure:"image_size"`
}

// secrets are read straight from the environment so they never need to
// live in a config file.
type secrets struct {
	JWTSecret   string `envconfig:"JWT_SECRET"`
	TokenSecret string `envconfig:"TOKEN_SECRET"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", StorageMemory)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rxledger")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "rxledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.dev_headers", false)

	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", 10*time.Minute)

	v.SetDefault("ledger.path", "")
	v.SetDefault("ledger.network", "rx-ledger-local")
	v.SetDefault("ledger.max_failures", 5)
	v.SetDefault("ledger.breaker_timeout", 30*time.Second)

	v.SetDefault("keys.cache_ttl", 5*time.Minute)

	v.SetDefault("directory.enforce_assignment", true)
	v.SetDefault("directory.enforce_catalog", true)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 5)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "rx.lifecycle")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "rx.lifecycle")
	v.SetDefault("kafka.batch_timeout", 50*time.Millisecond)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("qr.image_size", 240)
}

// LoadConfig reads config.yml from the usual locations (or file when set),
// overlays RX_* environment variables and validates the result. A missing
// config file is not an error; defaults apply.
func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	cfg.applySecrets(s)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s secrets) {
	if s.JWTSecret != "" {
		c.Auth.JWTSecret = s.JWTSecret
	}
	if s.TokenSecret != "" {
		c.Token.Secret = s.TokenSecret
	}
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}

	if c.IsDevelopment() {
		if c.Auth.JWTSecret == "" {
			c.Auth.JWTSecret = devJWTSecret
		}
		if c.Token.Secret == "" {
			c.Token.Secret = devTokenSecret
		}
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment || c.Environment == EnvTest
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("environment must be one of development, test, staging, production; got %q", c.Environment))
	}

	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory or postgres; got %q", c.Storage.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (RX_JWT_SECRET) is required"))
	}
	if c.Token.Secret == "" {
		errs = append(errs, errors.New("token.secret (RX_TOKEN_SECRET) is required"))
	}
	if c.Token.Secret != "" && c.Token.Secret == c.Auth.JWTSecret {
		errs = append(errs, errors.New("token.secret must differ from auth.jwt_secret"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}

	if c.Auth.DevHeaders && !c.IsDevelopment() {
		errs = append(errs, fmt.Errorf("auth.dev_headers is only allowed in development and test; environment is %q", c.Environment))
	}

	if c.IsProduction() {
		if len(c.Auth.JWTSecret) < 32 || len(c.Token.Secret) < 32 {
			errs = append(errs, errors.New("secrets must be at least 32 bytes in production"))
		}
		if c.Storage.Driver == StorageMemory {
			errs = append(errs, errors.New("storage.driver memory is not allowed in production"))
		}
		if c.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path is required in production"))
		}
	}

	if c.Outbox.Enabled {
		if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 || c.Outbox.RetryAttempts <= 0 {
			errs = append(errs, errors.New("outbox batch_size, poll_interval and retry_attempts must be positive"))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
