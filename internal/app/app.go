// Package app provides the main application struct for centralized
// dependency management and lifecycle control of the data gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"datacache/config"
	"datacache/internal/budget"
	"datacache/internal/cache"
	"datacache/internal/core"
	"datacache/internal/events"
	"datacache/internal/httpclient"
	"datacache/internal/monitor"
	"datacache/internal/providers"
	"datacache/internal/ratelimit"
	"datacache/internal/router"
	"datacache/internal/server"
	"datacache/internal/service"
	"datacache/internal/usage"
)

// App holds every component of the gateway and manages their lifecycle.
// The caller must call Shutdown to release resources.
type App struct {
	config   *config.Config
	cache    *cache.Tiered
	tracker  *budget.Tracker
	limiters *ratelimit.Registry
	registry *router.Registry
	router   *router.Router
	bus      *events.Bus
	service  *service.Service
	monitor  *monitor.Monitor
	server   *server.Server

	usageLogger usage.LoggerInterface
	usageStore  *usage.SQLiteStore

	httpClient *http.Client

	watchCancel context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates an App with all dependencies initialized. A missing or
// unreachable Redis degrades the cache to L1-only rather than failing
// startup; a broken provider file is a hard error because the gateway
// would have nothing to route to.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{
		config:     cfg,
		httpClient: httpclient.New(nil),
	}

	// Shared cache tier is optional.
	var l2 cache.Remote
	if cfg.Cache.RedisURL != "" {
		redis, err := cache.NewRedis(cache.RedisConfig{
			URL:           cfg.Cache.RedisURL,
			KeyPrefix:     cfg.Cache.KeyPrefix,
			MaxValueBytes: cfg.Cache.MaxValueBytes,
		})
		if err != nil {
			slog.Warn("redis unavailable, running with in-process cache only", "error", err)
		} else {
			l2 = redis
		}
	} else {
		slog.Info("no REDIS_URL configured, running with in-process cache only")
	}
	app.cache = cache.NewTiered(l2, cache.TieredConfig{
		MaxL1Entries:     cfg.Cache.MaxL1Entries,
		PromoteThreshold: cfg.Cache.PromoteThreshold,
	})

	app.tracker = budget.NewTracker(cfg.Budget.Limits(), nil)

	app.limiters = ratelimit.NewRegistry(nil)
	app.registry = router.NewRegistry()
	app.router = router.New(app.registry, app.limiters, app.tracker, router.Config{})
	app.bus = events.NewBus(256)

	usageResult, err := initUsage(cfg.Usage)
	if err != nil {
		closeErr := app.cache.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize usage ledger: %w (also: cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize usage ledger: %w", err)
	}
	app.usageLogger = usageResult.logger
	app.usageStore = usageResult.store

	app.service = service.New(app.cache, app.router, app.tracker, app.bus, app.usageLogger, service.Config{})
	if usageResult.reader != nil {
		app.service.SetReader(usageResult.reader)
	}

	if err := app.loadProviders(); err != nil {
		closeErr := errors.Join(app.usageLogger.Close(), app.closeUsageStore(), app.cache.Close())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to load providers: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}

	if cfg.Monitor.Enabled {
		app.monitor = monitor.New(app.service, app.bus, monitor.Config{
			Interval:    cfg.Monitor.Interval,
			QuietPeriod: cfg.Monitor.QuietPeriod,
		})
		app.monitor.Start()
	}

	app.logStartupInfo()

	app.server = server.New(app.service, server.Config{
		MetricsEnabled: cfg.Server.MetricsEnabled,
		BodySizeLimit:  cfg.Server.BodySizeLimit,
		Monitor:        app.monitor,
		UpdateProvider: app.UpdateProvider,
		RemoveProvider: app.RemoveProvider,
	})

	return app, nil
}

// Handler returns the HTTP API as an http.Handler for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Service returns the integration façade for embedding callers.
func (a *App) Service() *service.Service {
	return a.service
}

// Monitor returns the alerting monitor, nil when disabled.
func (a *App) Monitor() *monitor.Monitor {
	return a.monitor
}

// UpdateProvider registers or replaces one provider at runtime.
func (a *App) UpdateProvider(pc config.ProviderConfig) error {
	if pc.Name == "" {
		return core.NewInvalidRequestError("provider name is required")
	}
	if pc.BaseURL == "" {
		return core.NewInvalidRequestError("provider base_url is required")
	}

	opts := []providers.HTTPOption{}
	if pc.APIKey != "" {
		opts = append(opts, providers.WithAPIKey(pc.APIKey))
	}
	if pc.PayloadPath != "" {
		opts = append(opts, providers.WithPayloadPath(pc.PayloadPath))
	}

	a.registry.Update(providers.NewHTTP(pc.Spec(), a.httpClient, opts...))
	slog.Info("provider registered", "name", pc.Name, "cost_per_request", pc.CostPerRequest)
	return nil
}

// RemoveProvider removes one provider from the routing table.
func (a *App) RemoveProvider(name string) bool {
	if !a.registry.Remove(name) {
		return false
	}
	a.limiters.Remove(name)
	slog.Info("provider removed", "name", name)
	return true
}

// Start starts the HTTP server on the given address and begins watching
// the provider file for changes. Blocking; returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}

	if a.config.ProvidersPath != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.watchCancel = cancel
		go config.WatchProviders(watchCtx, a.config.ProvidersPath, 0, a.applyProviderFile)
	}

	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down components in dependency order:
// HTTP server first so no new requests arrive, then the monitor and
// provider watcher, then the usage ledger (flushing buffered entries),
// and the cache connection last. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.watchCancel != nil {
		a.watchCancel()
	}

	if a.usageLogger != nil {
		if err := a.usageLogger.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}
	if err := a.closeUsageStore(); err != nil {
		slog.Error("usage store close error", "error", err)
		errs = append(errs, fmt.Errorf("usage store close: %w", err))
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) closeUsageStore() error {
	if a.usageStore == nil {
		return nil
	}
	return a.usageStore.Close()
}

// loadProviders applies the provider file at startup. A missing file is
// tolerated so the gateway can start empty and be populated over the API.
func (a *App) loadProviders() error {
	if a.config.ProvidersPath == "" {
		slog.Warn("no provider file configured, starting with an empty routing table")
		return nil
	}

	pf, err := config.LoadProviders(a.config.ProvidersPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("provider file not found, starting with an empty routing table", "path", a.config.ProvidersPath)
			return nil
		}
		return err
	}

	a.applyProviderFile(pf)
	return nil
}

// applyProviderFile installs the provider fleet and any budget override
// from a freshly loaded file. Providers absent from the file are left
// registered; removal goes through the API.
func (a *App) applyProviderFile(pf *config.ProvidersFile) {
	for i := range pf.Providers {
		if err := a.UpdateProvider(pf.Providers[i]); err != nil {
			slog.Warn("skipping provider", "name", pf.Providers[i].Name, "error", err)
		}
	}
	if pf.Budget != nil {
		a.tracker.UpdateLimits(pf.Budget.Limits())
		slog.Info("budget limits updated from provider file",
			"hourly", pf.Budget.Hourly,
			"daily", pf.Budget.Daily,
			"monthly", pf.Budget.Monthly,
		)
	}
}

// usageInit bundles the ledger components created by initUsage.
type usageInit struct {
	logger usage.LoggerInterface
	store  *usage.SQLiteStore
	reader *usage.Reader
}

func initUsage(cfg config.UsageConfig) (*usageInit, error) {
	if !cfg.Enabled {
		return &usageInit{logger: &usage.NoopLogger{}}, nil
	}

	db, err := usage.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	store, err := usage.NewSQLiteStore(db, cfg.RetentionDays)
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("init usage store: %w (also: db close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("init usage store: %w", err)
	}

	reader, err := usage.NewReader(db)
	if err != nil {
		closeErr := store.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("init usage reader: %w (also: store close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("init usage reader: %w", err)
	}

	logger := usage.NewLogger(store, usage.Config{
		Enabled:       true,
		BufferSize:    cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
		RetentionDays: cfg.RetentionDays,
	})

	return &usageInit{logger: logger, store: store, reader: reader}, nil
}

// logStartupInfo logs the effective configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("cache configured",
		"l1_max_entries", cfg.Cache.MaxL1Entries,
		"promote_threshold", cfg.Cache.PromoteThreshold,
		"l2_enabled", cfg.Cache.RedisURL != "",
	)
	slog.Info("budget configured",
		"hourly", cfg.Budget.Hourly,
		"daily", cfg.Budget.Daily,
		"monthly", cfg.Budget.Monthly,
		"block_on_daily", cfg.Budget.BlockOnDaily,
	)
	if cfg.Usage.Enabled {
		slog.Info("usage ledger enabled",
			"db_path", cfg.Usage.DBPath,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage ledger disabled")
	}
	if cfg.Monitor.Enabled {
		slog.Info("monitoring enabled",
			"interval", cfg.Monitor.Interval,
			"quiet_period", cfg.Monitor.QuietPeriod,
		)
	} else {
		slog.Info("monitoring disabled")
	}
	if cfg.Server.MetricsEnabled {
		slog.Info("prometheus metrics enabled", "endpoint", "/metrics")
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
