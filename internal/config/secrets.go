// Package config loads Keyvex configuration from the environment and validates
// the credentials the service needs before it starts.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"keyvex/internal/logging"

	"go.uber.org/zap"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Minimum lengths for provider credentials
const (
	MinOpenAIKeyLength    = 20
	MinAnthropicKeyLength = 20
	MinGeminiKeyLength    = 20
	MinDatabaseURLLength  = 10
)

// SecretRequirement defines a credential and its validation rules
type SecretRequirement struct {
	Name        string
	EnvVar      string
	Description string
	Required    bool // Required in production
	MinLength   int
	Validator   func(string) error
}

// ProviderKeys holds the LLM provider credentials
type ProviderKeys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// Any reports whether at least one provider is configured.
func (k ProviderKeys) Any() bool {
	return k.OpenAI != "" || k.Anthropic != "" || k.Gemini != ""
}

// SecretsValidationError represents a validation failure
type SecretsValidationError struct {
	Missing  []string
	Invalid  []string
	Warnings []string
}

func (e *SecretsValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing secrets: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid secrets: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *SecretsValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// DefaultSecretRequirements returns the credentials Keyvex knows about. None is
// individually required; production needs at least one provider key.
func DefaultSecretRequirements() []SecretRequirement {
	return []SecretRequirement{
		{
			Name:        "OpenAI API Key",
			EnvVar:      "OPENAI_API_KEY",
			Description: "Key for OpenAI chat completions",
			MinLength:   MinOpenAIKeyLength,
			Validator:   validateOpenAIKey,
		},
		{
			Name:        "Anthropic API Key",
			EnvVar:      "ANTHROPIC_API_KEY",
			Description: "Key for the Anthropic Messages API",
			MinLength:   MinAnthropicKeyLength,
			Validator:   validateAnthropicKey,
		},
		{
			Name:        "Gemini API Key",
			EnvVar:      "GEMINI_API_KEY",
			Description: "Key for Google Gemini",
			MinLength:   MinGeminiKeyLength,
		},
		{
			Name:        "Database URL",
			EnvVar:      "DATABASE_URL",
			Description: "PostgreSQL connection string for the TCC mirror",
			MinLength:   MinDatabaseURLLength,
			Validator:   validateDatabaseURL,
		},
	}
}

// ValidateSecrets checks every known credential. Problems are warnings outside
// production and errors inside it.
func ValidateSecrets() (ProviderKeys, error) {
	isProduction := IsProductionEnvironment()
	validationErr := &SecretsValidationError{}

	for _, req := range DefaultSecretRequirements() {
		value := os.Getenv(req.EnvVar)
		if value == "" {
			if req.Required && isProduction {
				validationErr.Missing = append(validationErr.Missing, req.EnvVar)
			}
			continue
		}

		if len(value) < req.MinLength {
			msg := fmt.Sprintf("%s: too short (min %d characters)", req.EnvVar, req.MinLength)
			if isProduction {
				validationErr.Invalid = append(validationErr.Invalid, msg)
			} else {
				validationErr.Warnings = append(validationErr.Warnings, msg)
			}
		}

		if req.Validator != nil {
			if err := req.Validator(value); err != nil {
				if isProduction {
					validationErr.Invalid = append(validationErr.Invalid,
						fmt.Sprintf("%s: %s", req.EnvVar, err.Error()))
				} else {
					validationErr.Warnings = append(validationErr.Warnings,
						fmt.Sprintf("%s: %s (allowed in development)", req.EnvVar, err.Error()))
				}
			}
		}
	}

	keys := ProviderKeys{
		OpenAI:    os.Getenv("OPENAI_API_KEY"),
		Anthropic: os.Getenv("ANTHROPIC_API_KEY"),
		Gemini:    firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
	}

	if isProduction && !keys.Any() {
		validationErr.Missing = append(validationErr.Missing, "OPENAI_API_KEY|ANTHROPIC_API_KEY|GEMINI_API_KEY")
	}
	if isProduction && validationErr.HasErrors() {
		return keys, validationErr
	}
	if IsStagingEnvironment() && len(validationErr.Missing) > 0 {
		return keys, fmt.Errorf("staging environment requires production secrets: %s",
			strings.Join(validationErr.Missing, ", "))
	}

	for _, warning := range validationErr.Warnings {
		logging.L().Warn("secret check", zap.String("detail", warning))
	}
	return keys, nil
}

// LogSecretStatus logs which credentials are configured, names only.
func LogSecretStatus(keys ProviderKeys) {
	logging.L().Info("provider credentials",
		zap.Bool("openai", keys.OpenAI != ""),
		zap.Bool("anthropic", keys.Anthropic != ""),
		zap.Bool("gemini", keys.Gemini != ""),
		zap.String("environment", GetEnvironment()),
	)
}

// GetEnvironment returns the current environment
func GetEnvironment() string {
	env := firstEnv("GO_ENV", "KEYVEX_ENV", "ENVIRONMENT", "ENV")
	if env == "" {
		env = EnvDevelopment
	}
	return strings.ToLower(env)
}

// IsProductionEnvironment returns true if running in production
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}

// IsStagingEnvironment returns true if running in staging
func IsStagingEnvironment() bool {
	env := GetEnvironment()
	return env == EnvStaging || env == "stage"
}

var placeholderKey = regexp.MustCompile(`(?i)^(sk-(ant-)?)?(x+|your[-_].*|changeme|placeholder|test)$`)

func validateOpenAIKey(key string) error {
	if !strings.HasPrefix(key, "sk-") {
		return errors.New("must start with sk-")
	}
	if placeholderKey.MatchString(key) {
		return errors.New("appears to be a placeholder value")
	}
	return nil
}

func validateAnthropicKey(key string) error {
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("must start with sk-ant-")
	}
	if placeholderKey.MatchString(key) {
		return errors.New("appears to be a placeholder value")
	}
	return nil
}

// validateDatabaseURL checks for a valid PostgreSQL connection string.
func validateDatabaseURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "postgres://") && !strings.HasPrefix(rawURL, "postgresql://") {
		return errors.New("must be a PostgreSQL connection URL (postgres:// or postgresql://)")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return errors.New("database URL must include a hostname")
	}
	if parsed.User != nil {
		if password, ok := parsed.User.Password(); ok {
			for _, weak := range []string{"password", "postgres", "changeme", "test", "example"} {
				if strings.EqualFold(password, weak) {
					return fmt.Errorf("database password %q is a known default", weak)
				}
			}
		}
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
