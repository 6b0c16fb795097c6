// Command ingestion accepts posted activities on POST /api/v1/activities,
// validates them and publishes them to Kafka for the indexer.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml] [-port 8081]
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

	"github.com/joho/godotenv"

	"github.com/lmco/activitysearch/internal/ingestion/handler"
	"github.com/lmco/activitysearch/internal/ingestion/publisher"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/health"
	"github.com/lmco/activitysearch/pkg/kafka"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 8081, "listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", *port, "topic", cfg.Kafka.Topics.ActivityPosted)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ActivityPosted)
	defer producer.Close()

	h := handler.New(publisher.New(producer))
	checker := health.NewChecker("ingestion", 0)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/activities", h.Post)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(metrics.New())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
