// Command server starts the order execution engine: HTTP intake, the worker
// pool draining the Redis-backed job queue, and the WebSocket stream registry
// all run in this one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/dex"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/httpserver"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/observability"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/dex-order-engine/internal/adapter/ws"
	"github.com/fairyhunter13/dex-order-engine/internal/app"
	"github.com/fairyhunter13/dex-order-engine/internal/config"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
	"github.com/fairyhunter13/dex-order-engine/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	// Infra: order store.
	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN())
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := pingWithRetry(ctx, "postgres", pool.Ping); err != nil {
		slog.Error("db not reachable", slog.Any("error", err))
		os.Exit(1)
	}

	// Infra: queue backend.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	defer func() { _ = rdb.Close() }()
	if err := pingWithRetry(ctx, "redis", func(c context.Context) error { return rdb.Ping(c).Err() }); err != nil {
		slog.Error("redis not reachable", slog.Any("error", err))
		os.Exit(1)
	}

	store := postgres.NewOrderRepo(pool)

	catalog, err := dex.DefaultCatalog()
	if err != nil {
		slog.Error("venue catalog invalid", slog.Any("error", err))
		os.Exit(1)
	}
	var routerOpts []dex.Option
	if cfg.RouterSeed != 0 {
		routerOpts = append(routerOpts, dex.WithSeed(cfg.RouterSeed))
		slog.Info("router seeded", slog.Int64("seed", cfg.RouterSeed))
	}
	router := dex.NewRouter(catalog, routerOpts...)

	registry := ws.NewRegistry(domain.SystemClock{})

	queue := redisq.NewQueue(rdb, domain.SystemClock{}, redisq.Config{
		MaxAttempts:  cfg.QueueMaxAttempts,
		BaseDelay:    cfg.QueueBaseDelay,
		CompletedTTL: cfg.QueueCompletedTTL,
		CompletedMax: int64(cfg.QueueCompletedMax),
		FailedTTL:    cfg.QueueFailedTTL,
	})
	limiter := redisq.NewRedisLuaLimiter(rdb, map[string]redisq.BucketConfig{
		redisq.DispatchBucket: redisq.NewBucketConfigFromPerMinute(cfg.QueueThroughputPerMin),
	})

	executor := usecase.NewExecutor(store, queue, router, registry)
	executor.MaxAttempts = cfg.QueueMaxAttempts
	consumer := redisq.NewConsumer(queue, limiter, executor, cfg.WorkerConcurrency)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go func() {
		if err := consumer.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
	}()

	if cfg.SweepInterval > 0 {
		sweeper := app.NewStaleOrderSweeper(store, registry, cfg.StuckAfter, cfg.SweepInterval)
		go sweeper.Run(workerCtx)
		slog.Info("stale order sweeper started",
			slog.Duration("interval", cfg.SweepInterval),
			slog.Duration("stuck_after", cfg.StuckAfter))
	}

	if cfg.CleanupInterval > 0 {
		cleanup := postgres.NewCleanupService(pool, cfg.OrderRetention)
		go cleanup.RunPeriodic(workerCtx, cfg.CleanupInterval)
		slog.Info("order cleanup started",
			slog.Duration("interval", cfg.CleanupInterval),
			slog.Duration("retention", cfg.OrderRetention))
	}

	orders := usecase.NewOrderService(store, queue)
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rdb)
	srv := httpserver.NewServer(cfg, orders, registry, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	// Read/Write timeouts stay unset: the stream endpoint holds sockets open
	// for the order's whole lifetime.
	srvHTTP := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.String("addr", cfg.ListenAddr()))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Stop reserving new jobs, then wait for in-flight attempts so clients
	// holding a stream see their terminal frame before sockets drop.
	stopWorkers()
	consumer.Close()
	registry.CloseAll()
	slog.Info("shutdown complete")
}

// pingWithRetry dials a dependency with exponential backoff so the process
// survives the short window where docker-compose siblings are still booting.
func pingWithRetry(ctx context.Context, name string, ping func(context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = 30 * time.Second

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(pingCtx); err != nil {
			slog.Warn("dependency not ready", slog.String("dependency", name), slog.Any("error", err))
			return err
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(expo, ctx))
}
