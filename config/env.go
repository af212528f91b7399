package config

import (
	"os"
	"strings"
)

// Environment represents the current runtime environment
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	CI          Environment = "ci"
	Production  Environment = "production"
)

// GetEnvironment determines the current environment.
// CI is detected automatically; otherwise APP_ENV or ENV selects it.
func GetEnvironment() Environment {
	if os.Getenv("CI") == "true" {
		return CI
	}

	value := os.Getenv("APP_ENV")
	if value == "" {
		value = os.Getenv("ENV")
	}
	return ParseEnvironment(value)
}

// ParseEnvironment maps a name to an Environment, defaulting to development
func ParseEnvironment(value string) Environment {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "production", "prod":
		return Production
	case "test":
		return Test
	case "ci":
		return CI
	default:
		return Development
	}
}

// IsProduction reports whether strict validation applies
func (e Environment) IsProduction() bool {
	return e == Production
}

// LogFormat is the default log output format for the environment
func (e Environment) LogFormat() string {
	if e == Production || e == CI {
		return "json"
	}
	return "console"
}

// LoadsDotEnv reports whether a local .env file should be read at startup
func (e Environment) LoadsDotEnv() bool {
	return e == Development || e == Test
}
