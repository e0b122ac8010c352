package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/palate/internal/adapters/cache"
	"github.com/okian/palate/internal/adapters/http/api"
	"github.com/okian/palate/internal/adapters/kv"
	"github.com/okian/palate/internal/adapters/lock"
	"github.com/okian/palate/internal/adapters/repository"
	service "github.com/okian/palate/internal/app"
	"github.com/okian/palate/internal/config"
	"github.com/okian/palate/internal/supervisor"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Minute // POST /v1/admin/batch runs inline
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		// logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "palate exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logger.Get()

	// defaults -> optional file -> env
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := repository.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	kvs, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = kvs.Close() }()

	tiered := cache.New(kvs, store, store, cache.WithTTLs(cfg.FriendsTTL(), cfg.ListTTL(), cfg.PairTTL()))

	svc, err := service.New(service.Deps{
		Items:      store,
		Store:      store,
		Discoverer: newDiscoverer(cfg, store),
		Profiles:   store,
		Cache:      tiered,
		Locker:     lock.New(kvs, cfg.LockTTL()),
	},
		service.WithLogger(log.Named("service")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithRetryDelay(cfg.RetryDelay()),
		service.WithBatchTime(cfg.BatchHour, cfg.BatchMinute),
		service.WithBatchOnStart(cfg.BatchOnStart),
		service.WithBreaker(service.BreakerSettings{
			MinRequests:  uint32(max(cfg.BreakerMinRequests, 1)), //nolint:gosec // validated positive
			FailureRatio: cfg.BreakerFailureRatio,
			OpenTimeout:  cfg.BreakerOpenTimeout(),
		}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(svc, svc).Routes(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	tree := supervisor.NewTree(logger.Slog(), supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	tree.AddEngineService(svc.Workers())
	tree.AddEngineService(svc.Scheduler())
	tree.AddAPIService(supervisor.NewHTTPService(srv, shutdownTimeout))

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, store)

	log.Info(ctx, "starting palate",
		logger.String("addr", cfg.Addr),
		logger.String("kv_backend", cfg.KVBackend),
		logger.String("discovery_mode", cfg.DiscoveryMode),
		logger.Int("workers", svc.Workers().Size()),
	)
	err = tree.Serve(ctx)
	log.Info(context.WithoutCancel(ctx), "palate stopped")
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

func openKV(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.KVBackend {
	case config.KVBackendBadger:
		return kv.OpenBadger(cfg.BadgerPath)
	default:
		return kv.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
}

func newDiscoverer(cfg *config.Config, store *repository.Store) service.Discoverer {
	if cfg.DiscoveryMode == config.DiscoveryIndex {
		return repository.NewIndexDiscoverer(store)
	}
	return repository.NewSQLDiscoverer(store)
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the similarity row gauge until ctx ends.
func startServiceMetricsUpdater(ctx context.Context, counter service.Counter) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := counter.CountSimilarities(ctx); err == nil {
				metrics.UpdateSimilarityRows(n)
			}
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond)
	}
}
