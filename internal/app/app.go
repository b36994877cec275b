// Package app wires configuration, storage, coordination, and the upstream
// client into a running service.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/bobmcallan/quotecache/internal/clients/yahoo"
	"github.com/bobmcallan/quotecache/internal/common"
	"github.com/bobmcallan/quotecache/internal/ratelimit"
	"github.com/bobmcallan/quotecache/internal/services/series"
	"github.com/bobmcallan/quotecache/internal/storage/memory"
	"github.com/bobmcallan/quotecache/internal/storage/postgres"
	"github.com/bobmcallan/quotecache/internal/storage/redis"
)

// App holds all initialized components. It is the shared core behind
// cmd/quotecache-server.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Store   *postgres.Store
	Coord   *redis.Coordinator
	Client  *yahoo.Client
	Service *series.Service
}

// NewApp initializes storage, coordination, the upstream client, and the
// reconciliation service. When Redis is unreachable at startup the app falls
// back to in-process coordination: the cache still serves, it just cannot
// coordinate across processes.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	if configPath == "" {
		configPath = os.Getenv("QUOTECACHE_CONFIG")
	}
	if configPath == "" {
		configPath = "config/quotecache.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := postgres.Connect(ctx, config.Storage.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect series store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate series store: %w", err)
	}

	app := &App{
		Config: config,
		Logger: logger,
		Store:  store,
	}

	yahooCfg := config.Clients.Yahoo
	governorCfg := ratelimit.Config{
		Window:      yahooCfg.GetWindow(),
		MaxRequests: int64(yahooCfg.WindowRequests),
		Cooldown:    yahooCfg.GetCooldown(),
	}

	coord, err := redis.NewCoordinator(ctx, config.Storage.Redis, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Coordination store unreachable, using in-process coordination")
		lock := memory.NewBackfillLock(0)
		negcache := memory.NewNegativeCache(0)
		governor := ratelimit.NewGovernor(memory.NewRateCounter(), governorCfg, logger)
		app.Client = newYahooClient(yahooCfg, governor, logger)
		app.Service = series.NewService(store, app.Client, lock, negcache, logger)
		return app, nil
	}

	app.Coord = coord
	governor := ratelimit.NewGovernor(coord.NewRateCounter("yahoo"), governorCfg, logger)
	app.Client = newYahooClient(yahooCfg, governor, logger)
	app.Service = series.NewService(store, app.Client, coord, coord, logger)
	return app, nil
}

func newYahooClient(cfg common.YahooConfig, governor *ratelimit.Governor, logger *common.Logger) *yahoo.Client {
	opts := []yahoo.ClientOption{
		yahoo.WithLogger(logger),
		yahoo.WithGovernor(governor),
		yahoo.WithTimeout(cfg.GetTimeout()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, yahoo.WithBaseURL(cfg.BaseURL))
	}
	return yahoo.NewClient(opts...)
}

// Close releases storage and coordination connections.
func (a *App) Close() {
	if a.Coord != nil {
		if err := a.Coord.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close coordination store")
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
