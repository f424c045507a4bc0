package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/cache"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/engine"
	"github.com/xkilldash9x/jsbox/internal/observability"
	"github.com/xkilldash9x/jsbox/internal/store"
	"github.com/xkilldash9x/jsbox/internal/worker"
)

// resultStore is the slice of the report sink the commands use.
type resultStore interface {
	PersistData(ctx context.Context, data *schemas.ResultEnvelope) error
	GetDetectionsByScanID(ctx context.Context, scanID string) ([]schemas.Detection, error)
}

// storeProvider creates the report sink. Tests inject a mock.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing its resources.
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (resultStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to PostgreSQL and makes sure the result tables exist.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (resultStore, func(), error) {
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (JSBOX_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// components holds the optional services a run is wired with.
type components struct {
	Store        resultStore
	Cache        cache.Store
	Metrics      *observability.Metrics
	storeCleanup func()
}

// setupComponents opens whatever the config enables. The store is only
// opened when a database URL is configured.
func setupComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger, provider storeProvider) (*components, error) {
	c := &components{}

	if cfg.Database().URL != "" {
		s, cleanup, err := provider.Create(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		c.Store, c.storeCleanup = s, cleanup
	}

	if cfg.Cache().Enabled {
		b, err := cache.Open(cfg.Cache(), logger)
		if err != nil {
			c.Shutdown(logger)
			return nil, err
		}
		c.Cache = b
	}

	if cfg.Metrics().Enabled {
		c.Metrics = observability.NewMetrics()
	}
	return c, nil
}

func (c *components) workerOptions() []worker.Option {
	opts := []worker.Option{worker.WithVersion(Version)}
	if c.Cache != nil {
		opts = append(opts, worker.WithCache(c.Cache))
	}
	if c.Metrics != nil {
		opts = append(opts, worker.WithMetrics(c.Metrics))
	}
	return opts
}

func (c *components) engineOptions(extra ...engine.Option) []engine.Option {
	var opts []engine.Option
	if c.Store != nil {
		opts = append(opts, engine.WithStore(c.Store))
	}
	return append(opts, extra...)
}

// Shutdown releases everything setupComponents opened.
func (c *components) Shutdown(logger *zap.Logger) {
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Error closing verdict cache", zap.Error(err))
		}
	}
	if c.storeCleanup != nil {
		c.storeCleanup()
	}
}
