// Package app wires configuration, the embedding provider, PostgreSQL and
// the knowledge service into one application container.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/semidx/semidx/db"
	"github.com/semidx/semidx/internal/cache"
	"github.com/semidx/semidx/internal/config"
	"github.com/semidx/semidx/internal/embedding"
	"github.com/semidx/semidx/internal/index"
	"github.com/semidx/semidx/internal/knowledge"
	"github.com/semidx/semidx/internal/log"
	"github.com/semidx/semidx/internal/query"
	"github.com/semidx/semidx/internal/scheduler"
	"github.com/semidx/semidx/internal/vecstore"
)

// App is the application container.
type App struct {
	Config   *config.Config
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Gateway  *embedding.Gateway
	DBPool   *pgxpool.Pool
	Service  *knowledge.Service
	Logger   *slog.Logger
}

// Setup initializes all components. On error everything already started is
// shut down. Call Close to release resources.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := setupDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Genkit = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	a.Embedder = googlegenai.GoogleAIEmbedder(a.Genkit, cfg.EmbedderModel)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	gateway, err := embedding.New(a.Embedder, embedding.Config{
		ModelID:           cfg.EmbedderModel,
		Dimension:         int32(cfg.EmbedderDimension),
		Timeout:           time.Duration(cfg.EmbedTimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.EmbedRatePerSec,
		Burst:             cfg.EmbedBurst,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding gateway: %w", err)
	}
	a.Gateway = gateway

	store, err := vecstore.NewPostgres(pool, time.Duration(cfg.EmbedTimeoutSecs)*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	records, err := index.NewPostgresRecords(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("create record store: %w", err)
	}

	svc, err := knowledge.NewService(knowledge.Config{
		Collection: cfg.Collection,
		Cache: cache.Config{
			MaxEntries: cfg.CacheMaxEntries,
			MaxBytes:   cfg.CacheMaxBytes,
		},
		Scheduler: scheduler.Config{
			Workers:     cfg.Workers,
			QueueSize:   cfg.QueueSize,
			MaxAttempts: cfg.MaxAttempts,
			BackoffBase: time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
			BackoffCap:  time.Duration(cfg.BackoffCapMS) * time.Millisecond,
		},
		Query: query.Config{
			MinScore:    cfg.MinScore,
			DefaultTopK: cfg.DefaultTopK,
			MaxTopK:     cfg.MaxTopK,
		},
	}, gateway, store, records, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("create knowledge service: %w", err)
	}
	a.Service = svc

	logger.Info("application ready",
		slog.String("collection", cfg.Collection),
		slog.String("embedder_model", cfg.EmbedderModel),
		slog.Int("workers", cfg.Workers))
	return a, nil
}

// setupDBPool runs migrations and opens the connection pool.
func setupDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Close shuts down the service and the database pool.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.Close()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
}
