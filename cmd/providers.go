// File: cmd/providers.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/cart"
	"github.com/xkilldash9x/cartprobe/internal/config"
	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/driver/cdp"
	"github.com/xkilldash9x/cartprobe/internal/observability"
	"github.com/xkilldash9x/cartprobe/internal/store"
)

// runStore is what the commands need from persistence.
type runStore interface {
	cart.RunStore
	RecentRuns(ctx context.Context, name string, limit int) ([]store.RunSummary, error)
}

// storeProvider creates a runStore. Tests inject a mock instead of a live database.
type storeProvider interface {
	// Create returns the store and a cleanup function that releases its resources.
	Create(ctx context.Context, cfg config.Interface) (runStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production storeProvider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database, applies the schema when configured to,
// and returns the store with a cleanup that closes the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (CARTPROBE_DATABASE_URL)")
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
	if cfg.Database().EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

// page is a browser tab the audit command can navigate.
type page interface {
	driver.Driver
	Navigate(ctx context.Context, url string, timeout time.Duration) error
}

// browserLauncher starts a browser for one audit.
type browserLauncher interface {
	// Launch returns the tab and a function that shuts the browser down.
	Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (page, func(), error)
}

// chromeLauncher launches a local Chrome through chromedp.
type chromeLauncher struct{}

func (chromeLauncher) Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (page, func(), error) {
	b, err := cdp.Launch(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}
