package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lexgate/lexgate/core/controlplane/orchestrator"
	"github.com/lexgate/lexgate/core/controlplane/policy"
	"github.com/lexgate/lexgate/core/infra/bus"
	"github.com/lexgate/lexgate/core/infra/config"
	"github.com/lexgate/lexgate/core/infra/logging"
	"github.com/lexgate/lexgate/core/infra/metrics"
	"github.com/lexgate/lexgate/core/infra/ratelimit"
	"github.com/lexgate/lexgate/core/infra/redisutil"
	"github.com/lexgate/lexgate/core/infra/schema"
)

// Run wires the gateway from configuration and serves until SIGINT/SIGTERM.
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limits, err := config.LoadLimitsConfig(cfg.LimitsConfigPath)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}

	redisClient, err := redisutil.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	var pool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
	}

	var eventBus bus.Bus
	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		// The bus is an enrichment, not a dependency; jobs still flow
		// through the repository without it.
		logging.Warn("gateway", "nats unavailable, events disabled", "error", err)
	} else {
		defer natsBus.Close()
		eventBus = natsBus
	}

	var repo orchestrator.Repository
	if pool != nil {
		repo = orchestrator.NewPostgresRepository(pool)
	} else {
		logging.Warn("gateway", "postgres not configured, using in-memory repository")
		repo = orchestrator.NewMemoryRepository()
	}

	prom := metrics.NewProm("lexgate")
	service := orchestrator.NewService(
		repo,
		orchestrator.NewSafetyClient(cfg.SafetyGatewayURL),
		orchestrator.DefaultCommandSchemas(),
		eventBus,
		prom,
	)
	if registry, err := schema.NewRegistry(cfg.RedisURL); err != nil {
		logging.Warn("gateway", "schema registry unavailable, connector configs accepted unvalidated", "error", err)
	} else {
		defer registry.Close()
		service.WithConnectorSchemas(registry)
	}

	limiters := make(map[string]ratelimit.Limiter, len(limits.Buckets))
	for bucket, limit := range limits.Buckets {
		limiters[bucket] = buildLimiter(cfg, redisClient, pool, limit)
	}

	server := NewServer(Deps{
		Config:     cfg,
		Limits:     limits,
		Gate:       policy.NewGate(policy.NewRedisStore(redisClient)),
		Controller: orchestrator.NewController(service),
		Agent:      NewAgentClient(cfg.AgentURL),
		Limiters:   limiters,
		Admission:  prom,
		Gateway:    prom,
		Bus:        eventBus,
		Redis:      redisClient,
	})
	return server.Run(ctx)
}

// buildLimiter selects the rate-limit backend. The redis backend falls back
// to a per-process window when its store is down, so an outage degrades
// accuracy instead of availability. The postgres backend stays unwrapped:
// its errors surface as rate_limit_unavailable and the Guard fails open,
// keeping the stricter accounting honest about outages.
func buildLimiter(cfg *config.Config, redisClient *redis.Client, pool *pgxpool.Pool, limit config.BucketLimit) ratelimit.Limiter {
	memory := ratelimit.NewMemoryLimiter(limit.Limit, limit.Window)
	switch cfg.RateLimitBackend {
	case "redis":
		return ratelimit.NewFallbackLimiter(
			ratelimit.NewRedisLimiter(redisClient, limit.Limit, limit.Window),
			memory,
		)
	case "postgres":
		if pool == nil {
			logging.Warn("gateway", "postgres backend requested without POSTGRES_URL, using memory")
			return memory
		}
		return ratelimit.NewPostgresLimiter(pool, limit.Limit, limit.Window)
	default:
		return memory
	}
}
