package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the resolved service configuration.
type Config struct {
	Environment  string
	IsProduction bool
	Port         string

	Keys   ProviderKeys
	Models AgentModels

	// TCC persistence. Mirrors are enabled when their setting is present.
	TCCDir      string
	TCCRedisTTL time.Duration
	DatabaseURL string
	SQLitePath  string
	UseRedis    bool

	TranspilerURL     string
	TranspilerTimeout time.Duration
	SmokeRunTimeout   time.Duration

	// AgentBaseURL switches the orchestrator to HTTP dispatch when set.
	AgentBaseURL string
	JobTimeout   time.Duration
	LogRelayURL  string

	Artifacts ArtifactsConfig

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// ArtifactsConfig selects where finalized tools are archived.
type ArtifactsConfig struct {
	Backend     string // local or s3
	Dir         string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
}

// Load reads configuration from the environment. Call godotenv before this if
// a .env file should be honoured.
func Load() (*Config, error) {
	keys, err := ValidateSecrets()
	if err != nil {
		return nil, err
	}
	models, err := LoadAgentModels(os.Getenv("AGENT_MODELS_FILE"))
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		models.Default = v
	}
	if v := os.Getenv("FALLBACK_MODEL"); v != "" {
		models.Fallback = v
	}

	cfg := &Config{
		Environment:  GetEnvironment(),
		IsProduction: IsProductionEnvironment(),
		Port:         getEnv("PORT", "8080"),
		Keys:         keys,
		Models:       models,

		TCCDir:      os.Getenv("TCC_STORE_DIR"),
		TCCRedisTTL: getEnvDuration("TCC_REDIS_TTL", 24*time.Hour),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("TCC_SQLITE_PATH"),
		UseRedis:    os.Getenv("REDIS_URL") != "" || os.Getenv("REDIS_ADDRS") != "",

		TranspilerURL:     os.Getenv("TRANSPILER_URL"),
		TranspilerTimeout: getEnvDuration("TRANSPILER_TIMEOUT", 10*time.Second),
		SmokeRunTimeout:   getEnvDuration("SMOKE_RUN_TIMEOUT", 2*time.Second),

		AgentBaseURL: strings.TrimRight(os.Getenv("AGENT_BASE_URL"), "/"),
		JobTimeout:   getEnvDuration("JOB_TIMEOUT", 15*time.Minute),
		LogRelayURL:  os.Getenv("LOG_RELAY_URL"),

		Artifacts: ArtifactsConfig{
			Backend:     strings.ToLower(getEnv("ARTIFACTS_BACKEND", "local")),
			Dir:         getEnv("ARTIFACTS_DIR", "./data/artifacts"),
			S3Bucket:    os.Getenv("ARTIFACTS_S3_BUCKET"),
			S3Region:    getEnv("AWS_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("ARTIFACTS_S3_ENDPOINT"),
			S3AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			S3SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			S3PathStyle: getEnvBool("ARTIFACTS_S3_PATH_STYLE", false),
		},

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Artifacts.Backend {
	case "local":
	case "s3":
		if c.Artifacts.S3Bucket == "" {
			return fmt.Errorf("ARTIFACTS_S3_BUCKET is required when ARTIFACTS_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown ARTIFACTS_BACKEND %q", c.Artifacts.Backend)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT must be positive")
	}
	if c.Models.Default == "" {
		return fmt.Errorf("no default model configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
