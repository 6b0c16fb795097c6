// Command searcher serves activity stream search.
//
// With search.backend=memory it runs standalone from an optional YAML seed
// and aggregates its own analytics. With search.backend=postgres it reads
// postgres through redis, consumes list invalidations from Kafka and ships
// analytics events to the analytics service.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml] [-seed configs/seed.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lmco/activitysearch/internal/analytics"
	"github.com/lmco/activitysearch/internal/analytics/collector"
	"github.com/lmco/activitysearch/internal/stream/handler"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/search"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/health"
	"github.com/lmco/activitysearch/pkg/kafka"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/middleware"
	"github.com/lmco/activitysearch/pkg/resilience"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "", "path to config file")
	seedPath := flag.String("seed", "", "YAML fixture loaded into the memory backend")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"backend", cfg.Search.Backend,
		"default_page_size", cfg.Search.DefaultPageSize,
		"multiplier", cfg.Search.SubsequentPageMultiplier,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker("searcher", 0)
	var b *backend
	if cfg.Search.Backend == "postgres" {
		b, err = postgresBackend(ctx, cfg, m, checker)
	} else {
		b, err = memoryBackend(ctx, *seedPath, checker)
	}
	if err != nil {
		slog.Error("failed to initialise backend", "error", err)
		os.Exit(1)
	}
	defer b.close()

	guarded := index.NewGuarded(b.index, cfg.Search, m)
	checker.Register("index_breaker", func(context.Context) health.ComponentHealth {
		snap := guarded.Breaker()
		switch snap.State {
		case resilience.StateOpen:
			return health.ComponentHealth{Status: health.StatusDown, Message: fmt.Sprintf("circuit open since %s", snap.OpenedAt.Format(time.RFC3339))}
		case resilience.StateHalfOpen:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit half-open"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("circuit closed, %d consecutive failures", snap.ConsecutiveFailures)}
	})

	orchestrator := search.New(guarded, b.directory, b.lists, hydrate.New(b.loader, b.stars, m), cfg.Search, m)

	mux := http.NewServeMux()

	var tracker analytics.Tracker
	switch {
	case !cfg.Analytics.Enabled:
	case cfg.Search.Backend == "postgres":
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		bc := collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		bc.Start(ctx)
		defer bc.Close()
		tracker = bc
		slog.Info("analytics events shipped to kafka", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	default:
		agg := analytics.NewAggregator()
		tracker = agg
		mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(agg).Stats)
		slog.Info("analytics aggregated in process")
	}

	if cfg.Search.Backend == "postgres" && b.invalidator != nil {
		inv := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate, cfg.Kafka.ConsumerGroup+"-lists",
			lists.HandleInvalidation(b.invalidator))
		defer inv.Close()
		go func() {
			if err := inv.Start(ctx); err != nil {
				slog.Error("list invalidation consumer stopped", "error", err)
			}
		}()
		slog.Info("list invalidation consumer started", "topic", cfg.Kafka.Topics.CacheInvalidate)
	}

	h := handler.New(orchestrator, b.invalidator, tracker, b.dirCache)
	mux.HandleFunc("GET /api/v1/activities/search", h.Search)
	mux.HandleFunc("POST /api/v1/lists/invalidate", h.InvalidateLists)
	mux.HandleFunc("GET /api/v1/directory/cache/stats", h.DirectoryCacheStats)
	mux.HandleFunc("POST /api/v1/directory/cache/invalidate", h.InvalidateDirectory)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.User(chain)
	chain = middleware.Metrics(m)(chain)
	if cfg.Tracing.Enabled {
		chain = middleware.Trace(cfg.Tracing.SlowThreshold)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
