package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/fweather/internal/cache"
	"github.com/kjstillabower/fweather/internal/client"
	"github.com/kjstillabower/fweather/internal/config"
	"github.com/kjstillabower/fweather/internal/display"
	httphandler "github.com/kjstillabower/fweather/internal/http"
	"github.com/kjstillabower/fweather/internal/lifecycle"
	"github.com/kjstillabower/fweather/internal/location"
	"github.com/kjstillabower/fweather/internal/network"
	"github.com/kjstillabower/fweather/internal/observability"
	"github.com/kjstillabower/fweather/internal/service"
	"github.com/kjstillabower/fweather/internal/traffic"
	"github.com/kjstillabower/fweather/internal/updater"
)

// durableStore is a cache.Store that can be health-checked and closed.
type durableStore interface {
	cache.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClientWithConfig(cfg.ClientConfig(), logger)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	store, durable, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("cache store", zap.Error(err))
	}
	weatherCache := cache.NewWeatherCache(store, cfg.CacheTTL, logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	tracker := location.NewTracker(logger)
	tracker.Init(runCtx, location.DefaultSelector{
		Fused:   location.NewFusedBackend(cfg.FusedURL, cfg.FusedTimeout, cfg.FusedInterval, logger),
		Polling: location.NewPollingBackend(cfg.PollInterval, logger, pollingSources(cfg)...),
	})

	checker := network.NewDialChecker(cfg.NetworkProbeAddr, cfg.NetworkProbeTimeout)
	watcher := network.NewWatcher(checker, cfg.NetworkWatchInterval, logger)
	outcomes := traffic.NewTracker(nil)

	pipeline, err := service.NewPipeline(service.Options{
		Client:      weatherClient,
		Cache:       weatherCache,
		Locations:   tracker,
		Network:     checker,
		Events:      observability.NewEventSink(logger),
		Outcomes:    outcomes,
		Logger:      logger,
		ManualPlace: cfg.ManualLocation,
	})
	if err != nil {
		logger.Fatal("pipeline", zap.Error(err))
	}

	catalog, err := display.DefaultCatalog(nil, logger)
	if err != nil {
		logger.Fatal("display catalog", zap.Error(err))
	}
	board := display.NewBoard(catalog, display.Settings{
		DarkMode:          cfg.DarkMode,
		BackgroundOpacity: cfg.BackgroundOpacity,
		ShowTemperature:   cfg.ShowTemperature,
		ShowIcon:          cfg.ShowIcon,
		ShowButtons:       cfg.ShowButtons,
	}, logger)

	u := updater.New(updater.Options{
		Fetcher:   pipeline,
		Renderer:  board,
		Notifier:  board,
		Watcher:   watcher,
		WidgetIDs: cfg.WidgetIDs,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
	})
	pipeline.SetOnLocationReady(func() {
		if err := u.SubmitAll(false, true, updater.TriggerLocationReady); err != nil {
			logger.Warn("location-ready refresh not queued", zap.Error(err))
		}
	})
	updaterDone := make(chan struct{})
	go func() {
		defer close(updaterDone)
		u.Run(runCtx)
	}()

	// The first scheduled run doubles as the startup refresh.
	scheduler := updater.NewScheduler(u, cfg.SyncInterval, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedFallbackPct: cfg.DegradedFallbackPct,
		DegradedMinSamples:  3,
		RateLimitRPS:        cfg.RateLimitRPS,
		RateLimitBurst:      cfg.RateLimitBurst,
		StartTime:           time.Now(),
		CacheAge:            weatherCache.Age,
	}
	if durable != nil {
		healthConfig.CachePing = durable.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(httphandler.Deps{
		Weather:   pipeline,
		Refresher: u,
		Widgets:   board,
		Locations: tracker,
		Client:    weatherClient,
		Outcomes:  outcomes,
	}, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("cache_backend", cfg.CacheBackend),
			zap.Ints("widget_ids", cfg.WidgetIDs))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.PhaseDraining)
	scheduler.Stop()
	watcher.Unregister()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	cancelRun()
	select {
	case <-updaterDone:
	case <-shutdownCtx.Done():
		logger.Warn("updater did not stop before shutdown timeout")
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if durable != nil {
		if err := durable.Close(); err != nil {
			logger.Error("cache store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// openStore returns the persistent slot for the configured backend. durable is nil for
// the in-memory store.
func openStore(cfg *config.Config, logger *zap.Logger) (store cache.Store, durable durableStore, err error) {
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheTTL)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		s, err := cache.NewSQLiteStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: sqlite", zap.String("path", cfg.SQLitePath))
		return s, s, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewMemoryStore(), nil, nil
	}
}

// pollingSources lists the polled providers in preference order.
func pollingSources(cfg *config.Config) []location.Source {
	var sources []location.Source
	if cfg.LocationFile != "" {
		sources = append(sources, location.NewFileSource(cfg.LocationFile))
	}
	if cfg.StaticLocation != nil {
		sl := cfg.StaticLocation
		sources = append(sources, location.NewStaticSource(sl.Latitude, sl.Longitude, sl.City))
	}
	return sources
}
