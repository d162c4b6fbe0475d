// Package bootstrap wires the shared runtime used by the API and worker
// binaries: storage, caches, e-mail and the export pipeline.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/hms-platform/internal/compliance"
	appconfig "github.com/wolfman30/hms-platform/internal/config"
	"github.com/wolfman30/hms-platform/internal/directory"
	"github.com/wolfman30/hms-platform/internal/events"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// Runtime holds the storage backends for one process. Without DATABASE_URL
// everything lives in memory and InMemory is true.
type Runtime struct {
	InMemory  bool
	Pool      *pgxpool.Pool
	SQL       *sql.DB
	Redis     *redis.Client
	Store     scheduling.Store
	Outbox    events.Outbox
	Deduper   events.Deduper
	Directory directory.Repository
	Audit     *compliance.AuditService

	memStore *scheduling.MemoryStore
	memDir   *directory.InMemoryRepository
}

// BuildRuntime connects to postgres and redis when configured.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	rt := &Runtime{Redis: BuildRedisClient(ctx, cfg, logger, true)}

	pool, err := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		outbox := events.NewMemoryOutbox()
		rt.InMemory = true
		rt.memStore = scheduling.NewMemoryStore(outbox)
		rt.memDir = directory.NewInMemoryRepository()
		rt.Store = rt.memStore
		rt.Outbox = outbox
		rt.Deduper = events.NewMemoryDeduper()
		rt.Directory = rt.memDir
		if cfg.SeedFile != "" {
			if err := rt.Seed(cfg.SeedFile); err != nil {
				return nil, err
			}
			logger.Info("seeded in-memory clinic", "file", cfg.SeedFile)
		}
		return rt, nil
	}

	rt.Pool = pool
	rt.SQL = stdlib.OpenDBFromPool(pool)
	rt.Store = scheduling.NewPostgresStore(pool)
	rt.Outbox = events.NewOutboxStore(pool)
	rt.Deduper = events.NewProcessedStore(pool)
	rt.Directory = directory.NewPostgresRepository(pool)
	rt.Audit = compliance.NewAuditService(rt.SQL)
	return rt, nil
}

// ConnectPostgresPool returns nil when url is empty.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres", "max_conns", poolCfg.MaxConns)
	return pool, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// HealthChecks reports the reachable backends for /health.
func (rt *Runtime) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if rt.Pool != nil {
		checks["postgres"] = rt.Pool.Ping
	}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	return checks
}

func (rt *Runtime) Close() {
	if rt.SQL != nil {
		_ = rt.SQL.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
}
