// Command dispatcher runs the C6 poll-claim-process loop that drives the
// queue from pending requests to a terminal state (spec.md §4.6).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	realai "github.com/baker-compliant-ai/bakerbroker/internal/adapter/ai/real"
	stubai "github.com/baker-compliant-ai/bakerbroker/internal/adapter/ai/stub"
	"github.com/baker-compliant-ai/bakerbroker/internal/adapter/repo/postgres"
	"github.com/baker-compliant-ai/bakerbroker/internal/arbiter"
	"github.com/baker-compliant-ai/bakerbroker/internal/broker"
	"github.com/baker-compliant-ai/bakerbroker/internal/config"
	"github.com/baker-compliant-ai/bakerbroker/internal/dispatcher"
	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/observability"
	"github.com/baker-compliant-ai/bakerbroker/internal/sideeffect"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
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

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("dispatcher metrics server error", slog.Any("error", err))
		}
	}()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	store := postgres.NewStore(pool)
	b := broker.New(store)
	arb := arbiter.New()
	writer := sideeffect.New(store)

	var adapter domain.InferenceAdapter
	if cfg.BackendBaseURL != "" {
		adapter = realai.New(cfg)
		slog.Info("inference adapter: real backend", slog.String("base_url", cfg.BackendBaseURL))
	} else {
		adapter = stubai.New()
		slog.Info("inference adapter: stub (no BACKEND_BASE_URL configured)")
	}

	disp := dispatcher.New(store, arb, adapter, writer, logger, dispatcher.Config{
		PollInterval:    cfg.PollInterval,
		GPUTimeout:      cfg.GPUTimeout,
		MaxQueueRetries: cfg.MaxQueueRetries,
	})

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go runRetentionSweep(sweepCtx, b, cfg)

	runCtx, cancelRun := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancelRun()
	}()

	slog.Info("dispatcher starting")
	if err := disp.Run(runCtx); err != nil {
		slog.Error("dispatcher exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("dispatcher stopped")
}

// runRetentionSweep periodically purges terminal rows older than
// cfg.RetentionDays (spec.md §4.2's retention policy).
func runRetentionSweep(ctx context.Context, b *broker.Broker, cfg config.Config) {
	ticker := time.NewTicker(cfg.RetentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := cfg.RetentionCutoff(now)
			n, err := b.PurgeTerminalOlderThan(ctx, cutoff)
			if err != nil {
				slog.Error("retention sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("retention sweep purged rows", slog.Int64("count", n), slog.Time("cutoff", cutoff))
			}
		}
	}
}
