package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultHTTPAddr         = ":8081"
	defaultMetricsAddr      = ":9092"
	defaultRedisURL         = "redis://localhost:6379"
	defaultNATSURL          = "nats://localhost:4222"
	defaultSafetyGateway    = "http://localhost:50061"
	defaultAgentURL         = "http://localhost:50071"
	defaultLimitsConfig     = "config/limits.yaml"
	defaultRateLimitBackend = "memory"
	defaultRunTimeout       = 90 * time.Second
	defaultRunBudgetTokens  = 120000

	envHTTPAddr         = "GATEWAY_HTTP_ADDR"
	envMetricsAddr      = "GATEWAY_METRICS_ADDR"
	envRedisURL         = "REDIS_URL"
	envNATSURL          = "NATS_URL"
	envPostgresURL      = "POSTGRES_URL"
	envSafetyGateway    = "SAFETY_GATEWAY_URL"
	envAgentURL         = "AGENT_URL"
	envLimitsConfig     = "LIMITS_CONFIG_PATH"
	envRateLimitBackend = "RATE_LIMIT_BACKEND"
	envRunTimeoutMs     = "RUN_TIMEOUT_MS"
	envRunBudgetTokens  = "RUN_BUDGET_TOKENS"
)

// Config holds runtime configuration for the gateway and orchestrator.
type Config struct {
	HTTPAddr         string
	MetricsAddr      string
	RedisURL         string
	NatsURL          string
	PostgresURL      string
	SafetyGatewayURL string
	AgentURL         string
	LimitsConfigPath string
	RateLimitBackend string
	RunTimeout       time.Duration
	RunBudgetTokens  int
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:         envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:      envOr(envMetricsAddr, defaultMetricsAddr),
		RedisURL:         envOr(envRedisURL, defaultRedisURL),
		NatsURL:          envOr(envNATSURL, defaultNATSURL),
		PostgresURL:      os.Getenv(envPostgresURL),
		SafetyGatewayURL: envOr(envSafetyGateway, defaultSafetyGateway),
		AgentURL:         envOr(envAgentURL, defaultAgentURL),
		LimitsConfigPath: envOr(envLimitsConfig, defaultLimitsConfig),
		RateLimitBackend: envOr(envRateLimitBackend, defaultRateLimitBackend),
		RunTimeout:       envDurationMs(envRunTimeoutMs, defaultRunTimeout),
		RunBudgetTokens:  envInt(envRunBudgetTokens, defaultRunBudgetTokens),
	}
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func envDurationMs(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return fallback
}
