package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "\n")
}

// Has reports whether a field failed validation
func (e ValidationErrors) Has(field string) bool {
	for _, v := range e {
		if v.Field == field {
			return true
		}
	}
	return false
}

// ConfigRequirements lists settings that must be non-empty in an environment
type ConfigRequirements struct {
	RequiredSecrets []string
	RequirePostgres bool
}

var requirements = map[Environment]ConfigRequirements{
	Development: {},
	Test:        {},
	CI:          {},
	Production: {
		RequiredSecrets: []string{"auth.jwt_secret"},
		RequirePostgres: true,
	},
}

// ValidateConfig checks ranges for every environment plus the
// environment-specific requirements.
func ValidateConfig(cfg *Config, env Environment) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Server.Port == "" {
		add("server.port", "must be set")
	}
	if cfg.Server.Timezone != "" && cfg.Server.Timezone != "Local" {
		if _, err := time.LoadLocation(cfg.Server.Timezone); err != nil {
			add("server.timezone", "unknown time zone %q", cfg.Server.Timezone)
		}
	}

	switch cfg.Detection.Provider {
	case "rekognition":
		if cfg.Detection.AWSRegion == "" {
			add("detection.aws_region", "required for rekognition")
		}
	case "model_server":
		if cfg.Detection.ModelServerURL == "" {
			add("detection.model_server_url", "required for model_server")
		}
	default:
		add("detection.provider", "must be rekognition or model_server, got %q", cfg.Detection.Provider)
	}
	if cfg.Detection.TopK < 1 {
		add("detection.top_k", "must be at least 1")
	}
	if cfg.Detection.MinConfidence < 0 || cfg.Detection.MinConfidence > 1 {
		add("detection.min_confidence", "must be within [0,1]")
	}
	if cfg.Detection.Timeout <= 0 {
		add("detection.timeout", "must be positive")
	}

	if cfg.Enrichment.Enabled {
		if cfg.Enrichment.MaxAttempts < 1 {
			add("enrichment.max_attempts", "must be at least 1")
		}
		if cfg.Enrichment.Budget <= 0 {
			add("enrichment.budget", "must be positive")
		}
		if cfg.Enrichment.APIURL == "" {
			add("enrichment.api_url", "must be set when enrichment is enabled")
		}
		if env.IsProduction() && cfg.Enrichment.APIKey == "" {
			add("enrichment.api_key", "required in production when enrichment is enabled")
		}
	}

	if cfg.Cache.TTL <= 0 {
		add("cache.ttl", "must be positive")
	}
	if cfg.Cache.DegradedTTL <= 0 || cfg.Cache.DegradedTTL > cfg.Cache.TTL {
		add("cache.degraded_ttl", "must be positive and not exceed cache.ttl")
	}
	if cfg.Cache.MaxEntries < 0 {
		add("cache.max_entries", "must not be negative")
	}

	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		add("database.driver", "must be sqlite or postgres, got %q", cfg.Database.Driver)
	}

	if cfg.Recommend.DefaultLimit < 1 || cfg.Recommend.DefaultLimit > cfg.Recommend.MaxLimit {
		add("recommend.default_limit", "must be within [1, max_limit]")
	}

	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		add("archive.bucket", "required when archiving is enabled")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Limit < 1 || cfg.RateLimit.Window <= 0) {
		add("rate_limit", "limit and window must be positive when enabled")
	}

	if env.IsProduction() && len(cfg.Server.CORSOrigins) == 0 {
		add("server.cors_origins", "at least one origin is required in production")
	}

	reqs := requirements[env]
	for _, field := range reqs.RequiredSecrets {
		if field == "auth.jwt_secret" && cfg.Auth.JWTSecret == "" {
			add(field, "required secret is not set")
		}
	}
	if reqs.RequirePostgres && cfg.Database.Driver != "postgres" {
		add("database.driver", "production requires postgres")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
