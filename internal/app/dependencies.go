// Package app opens the backing services selected by configuration and hands
// the same wiring to the API, the worker and slotctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/catalog"
	"github.com/noah-isme/slot-reservations/internal/config"
	"github.com/noah-isme/slot-reservations/internal/events"
	"github.com/noah-isme/slot-reservations/internal/health"
	"github.com/noah-isme/slot-reservations/internal/inventory"
	"github.com/noah-isme/slot-reservations/internal/migrations"
	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/resilience"
)

// SeedDays is how many days of slots a fresh store receives.
const SeedDays = 5

// Dependencies holds the inventory store and the connections behind it.
// Pool and Redis are nil when the configuration does not need them.
type Dependencies struct {
	Backend string
	Store   inventory.Store
	Seeder  inventory.Seeder
	Source  catalog.Source
	Events  events.EventStore
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Breaker *resilience.Breaker
}

// Open connects to the services cfg selects. name labels database sessions.
func Open(ctx context.Context, cfg *config.Config, name string, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Backend: cfg.StoreBackend}
	retry := inventory.RetryConfig{
		MaxAttempts: cfg.Reserve.MaxAttempts,
		Base:        cfg.Reserve.RetryBase,
		Jitter:      cfg.Reserve.RetryJitter,
	}

	if cfg.RedisURL != "" {
		client, err := OpenRedis(ctx, cfg.RedisURL, cfg.Obs.EnablePrometheus)
		if err != nil {
			return nil, err
		}
		deps.Redis = client
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.RunMigrations {
			if err := migrations.Up(cfg.DatabaseURL); err != nil {
				deps.Close()
				return nil, err
			}
			logger.Info().Msg("migrations_applied")
		}
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL, name)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Pool = pool
		deps.Breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "postgres",
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
			OpenFor:      cfg.Breaker.OpenFor,
		}).WithLogger(logger)
		store := inventory.NewPostgresStore(pool, deps.Breaker, retry)
		deps.Store, deps.Seeder = store, store
		deps.Source = &catalog.PostgresSource{DB: pool}
		deps.Events = &events.PostgresStore{DB: pool}
	case config.BackendRedis:
		if deps.Redis == nil {
			return nil, errors.New("app: redis backend requires REDIS_URL")
		}
		store := inventory.NewRedisStore(deps.Redis, retry)
		deps.Store, deps.Seeder = store, store
	default:
		store := inventory.NewMemoryStore()
		deps.Store, deps.Seeder = store, store
	}
	if deps.Source == nil {
		deps.Source = catalog.NewMemorySource(catalog.SeedExperiences())
	}
	if deps.Events == nil {
		deps.Events = &events.MemoryStore{}
	}
	return deps, nil
}

// OpenPostgres connects a traced pool and pings it.
func OpenPostgres(ctx context.Context, databaseURL, name string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = name

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects an instrumented client and pings it.
func OpenRedis(ctx context.Context, redisURL string, withMetrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// AsynqOpt derives the task queue connection from the redis URL.
func AsynqOpt(redisURL string) (asynq.RedisConnOpt, error) {
	if redisURL == "" {
		return nil, errors.New("app: task queue requires REDIS_URL")
	}
	return asynq.ParseRedisURI(redisURL)
}

// Seed loads the demo catalog and SeedDays of slots starting at from.
func (d *Dependencies) Seed(ctx context.Context, from time.Time) error {
	if pg, ok := d.Source.(*catalog.PostgresSource); ok {
		if err := pg.UpsertExperiences(ctx, catalog.SeedExperiences()); err != nil {
			return fmt.Errorf("seed experiences: %w", err)
		}
	}
	if err := d.Seeder.SeedSlots(ctx, catalog.SeedSlots(from, SeedDays)); err != nil {
		return fmt.Errorf("seed slots: %w", err)
	}
	return nil
}

// Probes lists readiness checks for the open connections.
func (d *Dependencies) Probes(cfg *config.Config) []health.Probe {
	var probes []health.Probe
	if d.Pool != nil {
		probes = append(probes, health.DBProbe(d.Pool, cfg.Obs.ReadyDBTimeout))
	}
	if d.Redis != nil {
		probes = append(probes, health.RedisProbe(d.Redis, cfg.Obs.ReadyRedisTimeout))
	}
	return probes
}

// Close releases connections.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}
