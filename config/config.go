package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Detection  DetectionConfig  `koanf:"detection"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Cache      CacheConfig      `koanf:"cache"`
	Redis      RedisConfig      `koanf:"redis"`
	Database   DatabaseConfig   `koanf:"database"`
	Recommend  RecommendConfig  `koanf:"recommend"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	Archive    ArchiveConfig    `koanf:"archive"`
	Auth       AuthConfig       `koanf:"auth"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// Timezone is used to pick the default meal type when a query omits it.
	Timezone string `koanf:"timezone"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// PipelineConfig configures analysis request handling
type PipelineConfig struct {
	Version       string        `koanf:"version"`
	DefaultLocale string        `koanf:"default_locale"`
	MaxImageBytes int64         `koanf:"max_image_bytes"`
	FetchTimeout  time.Duration `koanf:"fetch_timeout"`
}

// DetectionConfig configures the vision capability
type DetectionConfig struct {
	// Provider is "rekognition" or "model_server".
	Provider       string        `koanf:"provider"`
	ModelServerURL string        `koanf:"model_server_url"`
	ModelName      string        `koanf:"model_name"`
	TopK           int           `koanf:"top_k"`
	MinConfidence  float64       `koanf:"min_confidence"`
	Timeout        time.Duration `koanf:"timeout"`
	AWSRegion      string        `koanf:"aws_region"`
}

// EnrichmentConfig configures the generative commentary client
type EnrichmentConfig struct {
	Enabled          bool          `koanf:"enabled"`
	APIURL           string        `koanf:"api_url"`
	APIKey           string        `koanf:"api_key"`
	Model            string        `koanf:"model"`
	MaxAttempts      int           `koanf:"max_attempts"`
	BaseDelay        time.Duration `koanf:"base_delay"`
	AttemptTimeout   time.Duration `koanf:"attempt_timeout"`
	Budget           time.Duration `koanf:"budget"`
	BreakerFailures  uint32        `koanf:"breaker_failures"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
	BreakerHalfOpens uint32        `koanf:"breaker_half_open_requests"`
}

// CacheConfig configures the analysis result cache
type CacheConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	DegradedTTL   time.Duration `koanf:"degraded_ttl"`
	MaxEntries    int           `koanf:"max_entries"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	RedisEnabled  bool          `koanf:"redis_enabled"`
	KeyPrefix     string        `koanf:"key_prefix"`
}

// RedisConfig holds connection settings shared by the cache and rate limiter
type RedisConfig struct {
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// DatabaseConfig configures the preference store
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver   string `koanf:"driver"`
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"ssl_mode"`
}

// RecommendConfig configures the recommendation engine
type RecommendConfig struct {
	DefaultLimit int    `koanf:"default_limit"`
	MaxLimit     int    `koanf:"max_limit"`
	PoolPath     string `koanf:"pool_path"`
}

// CatalogConfig points at an optional nutrition table overriding the embedded one
type CatalogConfig struct {
	Path string `koanf:"path"`
}

// ArchiveConfig configures S3 archiving of analyzed images
type ArchiveConfig struct {
	Enabled bool   `koanf:"enabled"`
	Bucket  string `koanf:"bucket"`
	Region  string `koanf:"region"`
	Prefix  string `koanf:"prefix"`
}

// AuthConfig configures JWT validation on user routes
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// RateLimitConfig configures the Redis-backed analyze limiter
type RateLimitConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Window    time.Duration `koanf:"window"`
	Limit     int           `koanf:"limit"`
	KeyPrefix string        `koanf:"key_prefix"`
}

// DefaultConfigPaths lists config file locations in priority order
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/foodlens/config.yaml",
}

// ConfigPathEnvVar overrides the config file location
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns a Config populated with development defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
			Timezone:        "Local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Pipeline: PipelineConfig{
			Version:       "v1",
			DefaultLocale: "en",
			MaxImageBytes: 10 << 20,
			FetchTimeout:  10 * time.Second,
		},
		Detection: DetectionConfig{
			Provider:       "model_server",
			ModelServerURL: "http://localhost:8501",
			ModelName:      "food101",
			TopK:           5,
			MinConfidence:  0.05,
			Timeout:        10 * time.Second,
			AWSRegion:      "us-east-1",
		},
		Enrichment: EnrichmentConfig{
			Enabled:          true,
			APIURL:           "https://api.deepseek.com/v1/chat/completions",
			Model:            "deepseek-chat",
			MaxAttempts:      3,
			BaseDelay:        500 * time.Millisecond,
			AttemptTimeout:   8 * time.Second,
			Budget:           15 * time.Second,
			BreakerFailures:  5,
			BreakerCooldown:  30 * time.Second,
			BreakerHalfOpens: 1,
		},
		Cache: CacheConfig{
			TTL:           time.Hour,
			DegradedTTL:   2 * time.Minute,
			MaxEntries:    1000,
			SweepInterval: time.Minute,
			RedisEnabled:  false,
			KeyPrefix:     "analysis",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DSN:     "foodlens.db",
			Host:    "localhost",
			Port:    "5432",
			Name:    "foodlens",
			SSLMode: "disable",
		},
		Recommend: RecommendConfig{
			DefaultLimit: 10,
			MaxLimit:     50,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Region:  "us-east-1",
			Prefix:  "analyzed-images",
		},
		Auth: AuthConfig{
			Issuer: "foodlens",
		},
		RateLimit: RateLimitConfig{
			Enabled:   false,
			Window:    time.Hour,
			Limit:     30,
			KeyPrefix: "rate_limit:analyze",
		},
	}
}

// LoadConfig layers defaults, an optional YAML file and environment variables,
// then fills secrets from the secrets directory and validates the result.
func LoadConfig() (*Config, error) {
	environment := GetEnvironment()
	k := koanf.New(".")

	defaults := Default()
	defaults.Logging.Format = environment.LogFormat()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	applySecrets(cfg)

	if err := ValidateConfig(cfg, environment); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envMappings maps flat environment variable names to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	"server_host":             "server.host",
	"server_port":             "server.port",
	"port":                    "server.port",
	"server_read_timeout":     "server.read_timeout",
	"server_write_timeout":    "server.write_timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":            "server.cors_origins",
	"timezone":                "server.timezone",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"pipeline_version": "pipeline.version",
	"default_locale":   "pipeline.default_locale",
	"max_image_bytes":  "pipeline.max_image_bytes",
	"fetch_timeout":    "pipeline.fetch_timeout",

	"detection_provider":       "detection.provider",
	"model_server_url":         "detection.model_server_url",
	"model_name":               "detection.model_name",
	"detection_top_k":          "detection.top_k",
	"detection_min_confidence": "detection.min_confidence",
	"detection_timeout":        "detection.timeout",
	"aws_region":               "detection.aws_region",

	"enrichment_enabled":          "enrichment.enabled",
	"enrichment_api_url":          "enrichment.api_url",
	"deepseek_api_url":            "enrichment.api_url",
	"enrichment_api_key":          "enrichment.api_key",
	"deepseek_api_key":            "enrichment.api_key",
	"enrichment_model":            "enrichment.model",
	"enrichment_max_attempts":     "enrichment.max_attempts",
	"enrichment_base_delay":       "enrichment.base_delay",
	"enrichment_attempt_timeout":  "enrichment.attempt_timeout",
	"enrichment_budget":           "enrichment.budget",
	"enrichment_breaker_failures": "enrichment.breaker_failures",
	"enrichment_breaker_cooldown": "enrichment.breaker_cooldown",

	"cache_ttl":            "cache.ttl",
	"cache_degraded_ttl":   "cache.degraded_ttl",
	"cache_max_entries":    "cache.max_entries",
	"cache_sweep_interval": "cache.sweep_interval",
	"cache_redis_enabled":  "cache.redis_enabled",
	"cache_key_prefix":     "cache.key_prefix",

	"redis_url":      "redis.url",
	"redis_host":     "redis.host",
	"redis_port":     "redis.port",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	"db_driver":   "database.driver",
	"db_dsn":      "database.dsn",
	"db_host":     "database.host",
	"db_port":     "database.port",
	"db_user":     "database.user",
	"db_password": "database.password",
	"db_name":     "database.name",
	"db_ssl_mode": "database.ssl_mode",

	"recommend_default_limit": "recommend.default_limit",
	"recommend_max_limit":     "recommend.max_limit",
	"recommend_pool_path":     "recommend.pool_path",
	"catalog_path":            "catalog.path",

	"archive_enabled": "archive.enabled",
	"s3_bucket_name":  "archive.bucket",
	"archive_region":  "archive.region",
	"archive_prefix":  "archive.prefix",

	"jwt_secret": "auth.jwt_secret",
	"jwt_issuer": "auth.issuer",

	"rate_limit_enabled": "rate_limit.enabled",
	"rate_limit_window":  "rate_limit.window",
	"rate_limit_limit":   "rate_limit.limit",
}

func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// splitSliceFields turns comma-separated env values into slices
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return err
		}
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// applySecrets fills sensitive values from Docker secrets when they were not set otherwise
func applySecrets(cfg *Config) {
	fill := func(dst *string, name string) {
		if *dst == "" {
			*dst = readSecret(name)
		}
	}
	fill(&cfg.Auth.JWTSecret, "jwt_secret")
	fill(&cfg.Database.Password, "db_password")
	fill(&cfg.Database.User, "db_user")
	fill(&cfg.Redis.Password, "redis_password")
	fill(&cfg.Enrichment.APIKey, "enrichment_api_key")
}

// readSecret reads a Docker secret from the secrets directory
func readSecret(name string) string {
	secretsDir := os.Getenv("SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = "/run/secrets"
	}
	if data, err := os.ReadFile(filepath.Join(secretsDir, name)); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}

// Location resolves the configured time zone, falling back to the process zone
func (c ServerConfig) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// PostgresDSN builds a postgres connection string unless an explicit DSN is set
func (c DatabaseConfig) PostgresDSN() string {
	if c.DSN != "" && c.Driver == "postgres" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
