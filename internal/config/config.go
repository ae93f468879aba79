// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/fieldtally/internal/domain"
)

// EnvPrefix is the prefix of environment variables overriding configuration
// keys, e.g. FIELDTALLY_ENGINE_SPATIAL_INDEX.
const EnvPrefix = "FIELDTALLY"

// Config holds all application configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Server  ServerConfig  `mapstructure:"server"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig holds counting engine configuration.
type EngineConfig struct {
	BatchSize    int  `mapstructure:"batch_size"`    // pairs between cancellation checks
	MessageEvery int  `mapstructure:"message_every"` // pairs between progress messages
	SpatialIndex bool `mapstructure:"spatial_index"`
}

// SinkConfig holds CSV output configuration.
type SinkConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	CRLF          bool          `mapstructure:"crlf"`
}

// OutputConfig holds run output configuration.
type OutputConfig struct {
	Dir           string `mapstructure:"dir"` // base directory for API runs
	Publish       bool   `mapstructure:"publish"`
	PublishPrefix string `mapstructure:"publish_prefix"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	CachePath string      `mapstructure:"cache_path"` // download target for remote storage
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// IsLocal reports whether layer files are read in place.
func (c *StorageConfig) IsLocal() bool {
	return c.Type == "local"
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// SyncConfig holds periodic storage sync configuration.
type SyncConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Cooldown time.Duration `mapstructure:"cooldown"` // between manual syncs via the API
}

// WatchConfig holds file watcher configuration for local storage.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS zone used for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values on v.
func Defaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.batch_size", 10_000)
	v.SetDefault("engine.message_every", 1_000_000)
	v.SetDefault("engine.spatial_index", false)

	// Output defaults
	v.SetDefault("sink.retry_interval", 5*time.Second)
	v.SetDefault("sink.crlf", false)
	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.publish", false)
	v.SetDefault("output.publish_prefix", "results")

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("storage.cache_path", "./cache")
	v.SetDefault("storage.http.index_file", "index.txt")
	v.SetDefault("storage.http.timeout", 5*time.Minute)

	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.interval", time.Hour)
	v.SetDefault("sync.cooldown", 30*time.Second)
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 500*time.Millisecond)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors.allowed_origins", []string{})

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cache_dir", "./.certmagic")
	v.SetDefault("tls.staging", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file into v and decodes it. An empty
// configPath searches the default locations; a missing default file is not
// an error.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fieldtally")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.BatchSize < 1 {
		return invalid("engine.batch_size", c.Engine.BatchSize, "must be positive")
	}
	if c.Engine.MessageEvery < 1 {
		return invalid("engine.message_every", c.Engine.MessageEvery, "must be positive")
	}
	if c.Sink.RetryInterval <= 0 {
		return invalid("sink.retry_interval", c.Sink.RetryInterval, "must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", c.Server.Port, "must be 1-65535")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port", c.Metrics.Port, "must be 1-65535")
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return invalid("sync.interval", c.Sync.Interval, "must be positive")
	}
	if c.Sync.Enabled && c.Sync.Cooldown < 0 {
		return invalid("sync.cooldown", c.Sync.Cooldown, "must not be negative")
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return invalid("tls.domains", nil, "required when TLS is enabled")
		}
		if c.TLS.Email == "" {
			return invalid("tls.email", nil, "required when TLS is enabled")
		}
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return invalid("storage.local_path", nil, "required for local storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket", nil, "required for S3 storage")
		}
		if c.Storage.S3.Region == "" {
			return invalid("storage.s3.region", nil, "required for S3 storage")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return invalid("storage.azure.container", nil, "required for Azure storage")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return invalid("storage.azure.account_name", nil, "account name or connection string required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", nil, "required for HTTP storage")
		}
		if c.Output.Publish {
			return invalid("output.publish", true, "HTTP storage is read-only")
		}
	default:
		return invalid("storage.type", c.Storage.Type, "unknown storage type")
	}
	if !c.Storage.IsLocal() && c.Storage.CachePath == "" {
		return invalid("storage.cache_path", nil, "required for remote storage")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("logging.format", c.Logging.Format, "must be json or text")
	}

	return nil
}

func invalid(field string, value interface{}, msg string) error {
	if value != nil {
		msg = fmt.Sprintf("%s (got %v)", msg, value)
	}
	return &domain.ConfigError{Field: field, Message: msg}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
