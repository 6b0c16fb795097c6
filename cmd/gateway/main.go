// Command gateway is the single entry point for external clients. It
// resolves API keys to stream users, applies per-key rate limits and
// proxies to the searcher, ingestion and analytics services with the
// resolved user in X-User-Key.
//
// Keys live in postgres. With -keys=memory the gateway instead keeps keys
// in process and seeds one admin key from SP_GATEWAY_ADMIN_KEY, for local
// development.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml] [-keys postgres|memory]
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

	"github.com/lmco/activitysearch/internal/auth/apikey"
	"github.com/lmco/activitysearch/internal/auth/ratelimit"
	gwhandler "github.com/lmco/activitysearch/internal/gateway/handler"
	"github.com/lmco/activitysearch/internal/gateway/router"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/postgres"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "", "path to config file")
	keyBackend := flag.String("keys", "postgres", "api key store: postgres or memory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"searcher_url", cfg.Gateway.SearcherURL,
		"ingestion_url", cfg.Gateway.IngestionURL,
		"analytics_url", cfg.Gateway.AnalyticsURL,
		"keys", *keyBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var keys apikey.Store
	switch *keyBackend {
	case "memory":
		mem := apikey.NewMemory()
		if raw := os.Getenv("SP_GATEWAY_ADMIN_KEY"); raw != "" {
			if _, err := mem.Seed(raw, apikey.NewKey{Name: "bootstrap", UserKey: "admin", Admin: true, RateLimit: 1000}); err != nil {
				slog.Error("failed to seed admin key", "error", err)
				os.Exit(1)
			}
			slog.Info("bootstrap admin key seeded")
		} else {
			slog.Warn("SP_GATEWAY_ADMIN_KEY not set, no key can authenticate")
		}
		keys = mem
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := apikey.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate api_keys", "error", err)
			os.Exit(1)
		}
		keys = pg
	default:
		fmt.Fprintf(os.Stderr, "unknown -keys %q\n", *keyBackend)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.Gateway.RateLimitWindow)
	go limiter.Run(ctx, 5*time.Minute)

	h, err := gwhandler.New(gwhandler.Config{
		SearcherURL:  cfg.Gateway.SearcherURL,
		IngestionURL: cfg.Gateway.IngestionURL,
		AnalyticsURL: cfg.Gateway.AnalyticsURL,
	}, keys)
	if err != nil {
		slog.Error("invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      router.New(h, keys, limiter),
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

	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway service stopped")
}
