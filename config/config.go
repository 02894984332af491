package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr          string
	CacheBackend       string        // "redis" or "memory", default: redis
	CacheSweepInterval time.Duration // default: 10m, only used by the memory backend

	// Providers
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string

	// Generation
	GenerationChain []ChainLink   // ordered fallback chain
	AttemptTimeout  time.Duration // per-attempt budget, default: 20s

	// Observability
	LogLevel             string // debug|info|warn|error, default: info
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	GenerateRPM int64 // generation requests per tenant per minute, default: 30
}

// ChainLink is one provider/model pair of the configured fallback chain.
type ChainLink struct {
	Provider string
	Model    string
}

const defaultChain = "openai:gpt-4o-mini,gemini:gemini-2.0-flash,claude:claude-3-5-haiku-20241022"

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		CacheBackend:         getEnv("CACHE_BACKEND", "redis"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	rpm, err := strconv.ParseInt(getEnv("GENERATE_RATE_LIMIT_RPM", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATE_RATE_LIMIT_RPM: %w", err)
	}
	cfg.GenerateRPM = rpm

	cfg.AttemptTimeout, err = time.ParseDuration(getEnv("ATTEMPT_TIMEOUT", "20s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ATTEMPT_TIMEOUT: %w", err)
	}

	cfg.CacheSweepInterval, err = time.ParseDuration(getEnv("CACHE_SWEEP_INTERVAL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_SWEEP_INTERVAL: %w", err)
	}

	cfg.GenerationChain, err = ParseChain(getEnv("GENERATION_CHAIN", defaultChain))
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATION_CHAIN: %w", err)
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.GenerateRPM <= 0 {
		return nil, fmt.Errorf("GENERATE_RATE_LIMIT_RPM must be positive, got %d", cfg.GenerateRPM)
	}
	if cfg.AttemptTimeout <= 0 {
		return nil, fmt.Errorf("ATTEMPT_TIMEOUT must be positive, got %s", cfg.AttemptTimeout)
	}
	if cfg.CacheSweepInterval <= 0 {
		return nil, fmt.Errorf("CACHE_SWEEP_INTERVAL must be positive, got %s", cfg.CacheSweepInterval)
	}
	if cfg.CacheBackend != "redis" && cfg.CacheBackend != "memory" {
		return nil, fmt.Errorf("CACHE_BACKEND must be redis or memory, got %q", cfg.CacheBackend)
	}

	return cfg, nil
}

// ParseChain parses "provider:model,provider:model" into an ordered chain.
func ParseChain(s string) ([]ChainLink, error) {
	var chain []ChainLink
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, model, ok := strings.Cut(part, ":")
		if !ok || name == "" || model == "" {
			return nil, fmt.Errorf("entry %q must be provider:model", part)
		}
		chain = append(chain, ChainLink{Provider: name, Model: model})
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("chain is empty")
	}
	return chain, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
