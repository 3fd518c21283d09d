// Command intake starts the HTTP server exposing C7, the only write path
// into the queue (spec.md §4.7).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/baker-compliant-ai/bakerbroker/internal/adapter/httpserver"
	"github.com/baker-compliant-ai/bakerbroker/internal/adapter/repo/postgres"
	"github.com/baker-compliant-ai/bakerbroker/internal/app"
	"github.com/baker-compliant-ai/bakerbroker/internal/broker"
	"github.com/baker-compliant-ai/bakerbroker/internal/config"
	"github.com/baker-compliant-ai/bakerbroker/internal/intake"
	"github.com/baker-compliant-ai/bakerbroker/internal/observability"
	"github.com/baker-compliant-ai/bakerbroker/internal/service/ratelimiter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

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
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	store := postgres.NewStore(pool)
	b := broker.New(store)
	svc := intake.New(b)

	var userLimiter ratelimiter.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL, per-user rate limiting disabled", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opts)
			limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
				"user": ratelimiter.NewBucketConfigFromPerMinute(cfg.UserRateLimitPerMin),
			})
			if err := limiter.WarmFromPostgres(ctx); err != nil {
				slog.Warn("rate limiter warm from postgres failed", slog.Any("error", err))
			}
			userLimiter = limiter
			slog.Info("per-user rate limiting enabled", slog.Int("per_minute", cfg.UserRateLimitPerMin))
		}
	}

	dbCheck := app.BuildReadinessCheck(pool)
	srv := httpserver.NewServer(cfg, svc, dbCheck, userLimiter)
	handler := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("intake http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
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
	_ = httpSrv.Shutdown(shutdownCtx)
}
