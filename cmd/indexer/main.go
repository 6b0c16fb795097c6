// Command indexer consumes posted activities from Kafka and writes them to
// the postgres activity store and index.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lmco/activitysearch/internal/analytics/collector"
	"github.com/lmco/activitysearch/internal/indexer/consumer"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/kafka"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/postgres"
	pkgredis "github.com/lmco/activitysearch/pkg/redis"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "topic", cfg.Kafka.Topics.ActivityPosted)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	idx := index.NewPostgres(db)
	activities := hydrate.NewPostgres(db)
	for _, migrate := range []func(context.Context) error{idx.Migrate, activities.Migrate} {
		if err := migrate(ctx); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	// Writing through the activity cache evicts stale copies a searcher
	// may have cached before a re-post.
	var store hydrate.Store = activities
	if rdb, err := pkgredis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, activity cache not evicted on write", "error", err)
	} else {
		defer rdb.Close()
		store = hydrate.NewCached(activities, rdb, cfg.Redis.ActivityTTL)
	}

	var tracker consumer.IndexTracker
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		bc := collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		bc.Start(ctx)
		defer bc.Close()
		tracker = bc
	}

	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ActivityPosted, cfg.Kafka.ConsumerGroup+"-indexer",
		consumer.HandleMessage(idx, store, m, tracker))
	indexConsumer := consumer.New(kafkaConsumer)
	defer indexConsumer.Close()

	slog.Info("indexer ready", "group", cfg.Kafka.ConsumerGroup+"-indexer")
	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("indexer service stopped")
}
