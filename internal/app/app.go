// Package app owns the application context: it constructs the components
// leaves-first, threads handles through constructors, and destroys
// everything in reverse creation order on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"bitget-radar/configs"
	"bitget-radar/internal/bitget"
	"bitget-radar/internal/broker"
	"bitget-radar/internal/cache"
	"bitget-radar/internal/health"
	"bitget-radar/internal/persister"
	"bitget-radar/internal/policy"
	"bitget-radar/internal/ratelimit"
	"bitget-radar/internal/server"
	"bitget-radar/internal/storage"
	"bitget-radar/internal/symbols"
)

// App wires and supervises the whole pipeline.
type App struct {
	cfg     *configs.AppConfig
	logger  *logrus.Logger
	slogger *slog.Logger

	registry   *ratelimit.Registry
	cache      *cache.TradeCache
	store      storage.Storage
	catalog    *bitget.CatalogClient
	latch      *health.Latch
	broker     *broker.Broker
	sessions   *bitget.SessionSupervisor
	symbols    *symbols.Manager
	policy     *policy.Manager
	supervisor *health.Supervisor
	persist    *persister.Persister
	httpServer *http.Server
}

// New constructs the application context. Components are created
// leaves-first; nothing starts running yet.
func New(cfg *configs.AppConfig) (*App, error) {
	logger := newLogger(cfg.Server.Debug)
	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	creds := bitget.Credentials{
		APIKey:     cfg.Bitget.APIKey,
		SecretKey:  cfg.Bitget.SecretKey,
		Passphrase: cfg.Bitget.Passphrase,
	}
	profile := policy.ProfileFor(creds)
	logger.Infof("starting at %s tier (%d markets)", profile.Tier, len(profile.Markets))

	registry := ratelimit.NewRegistry(profile.MaxRPS, logger)

	dedupWindow := time.Duration(cfg.System.DedupWindowSeconds) * time.Second
	tradeCache, err := cache.New(cfg.Redis, cfg.TLS, dedupWindow, logger)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	var store storage.Storage
	if cfg.ClickHouse.Enabled() {
		store, err = storage.NewClickHouseStorage(cfg.ClickHouse.DSN())
		if err != nil {
			tradeCache.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
	} else {
		logger.Warn("analytical store not configured, persistence disabled")
	}

	catalog := bitget.NewCatalogClient(cfg.Bitget.RESTBaseURL, creds, registry.Get("catalog"), logger)
	latch := health.NewLatch()
	fanout := broker.New(logger)
	sessionSup := bitget.NewSessionSupervisor(tradeCache, tradeCache, fanout, registry, latch, cfg.Bitget.MarketMappings, logger)
	symbolMgr := symbols.NewManager(catalog, profile.Markets, cfg.System.MaxSymbolsPerMarket, profile.MaxSymbolsPerGroup, cfg.System.MinVolume24h, logger)
	policyMgr := policy.NewManager(catalog, registry, symbolMgr, sessionSup, cfg.System.MaxSymbolsPerMarket, logger)

	catalogProbe := func(ctx context.Context) error {
		_, err := catalog.ListSpotSymbols(ctx)
		return err
	}
	var storeProbe health.Probe
	if store != nil {
		storeProbe = store.Ping
	}
	healthSup := health.NewSupervisor(tradeCache.Ping, catalogProbe, storeProbe, registry, latch, logger)

	var persist *persister.Persister
	if store != nil {
		persist = persister.New(tradeCache.Client(), store, symbolMgr, slogger, persister.Config{
			BatchSize:    cfg.ClickHouse.BatchSize,
			BatchTimeout: 5 * time.Second,
		})
	}

	handler := server.NewHandler(policyMgr, healthSup, symbolMgr, catalog, fanout, logger)
	router := server.NewRouter(handler, cfg.Server.Debug)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		slogger:    slogger,
		registry:   registry,
		cache:      tradeCache,
		store:      store,
		catalog:    catalog,
		latch:      latch,
		broker:     fanout,
		sessions:   sessionSup,
		symbols:    symbolMgr,
		policy:     policyMgr,
		supervisor: healthSup,
		persist:    persist,
		httpServer: httpServer,
	}, nil
}

// Logger exposes the application logger for main.
func (a *App) Logger() *logrus.Logger { return a.logger }

// Run starts every component and blocks until ctx is cancelled, then shuts
// everything down in reverse creation order.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.broker.Start(runCtx)
	a.supervisor.Start(runCtx)
	a.sessions.Start(runCtx)

	go a.drainSymbolEvents(runCtx)

	if err := a.symbols.Initialize(runCtx); err != nil {
		a.logger.Errorf("initial symbol selection failed: %v", err)
		// Sessions start empty; the first successful reconcile fills them.
	}
	a.sessions.Reconfigure(a.symbols.Groups(), a.policy.Profile().BookSubscription)

	if a.persist != nil {
		go func() {
			if err := a.persist.Start(runCtx); err != nil && runCtx.Err() == nil {
				a.logger.Errorf("persister stopped: %v", err)
			}
		}()
	}

	go func() {
		a.logger.Infof("control plane listening on :%s", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Errorf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	a.shutdown()
	return nil
}

// shutdown tears components down in reverse creation order.
func (a *App) shutdown() {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorf("http shutdown: %v", err)
	}

	if a.persist != nil {
		select {
		case <-a.persist.Done():
		case <-time.After(12 * time.Second):
			a.logger.Warn("persister drain timed out")
		}
	}

	a.supervisor.Stop()
	a.sessions.StopAll()
	a.broker.Stop()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Errorf("store close: %v", err)
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Errorf("cache close: %v", err)
	}

	a.logger.Info("shutdown complete")
}

// drainSymbolEvents logs working-set activations. The supervisor itself is
// reconfigured with full group sets, so the events are informational.
func (a *App) drainSymbolEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.symbols.Events():
			a.logger.Debugf("symbol %s: %s (%s)", ev.Type, ev.Symbol, ev.Market)
		}
	}
}

func newLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
