// Command server runs the collected-document intake and query API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duskwatch/duskwatch/internal/ingest"
	"github.com/duskwatch/duskwatch/internal/relay"
	"github.com/duskwatch/duskwatch/internal/scoring"
	"github.com/duskwatch/duskwatch/internal/search"
	"github.com/duskwatch/duskwatch/internal/server"
	"github.com/duskwatch/duskwatch/internal/status"
	"github.com/duskwatch/duskwatch/internal/store"
	"github.com/duskwatch/duskwatch/pkg/config"
	"github.com/duskwatch/duskwatch/pkg/health"
	"github.com/duskwatch/duskwatch/pkg/kafka"
	"github.com/duskwatch/duskwatch/pkg/logger"
	"github.com/duskwatch/duskwatch/pkg/metrics"
	"github.com/duskwatch/duskwatch/pkg/postgres"
	"github.com/duskwatch/duskwatch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("server")

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pgClient.Close()

	docStore := store.New(pgClient)
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = docStore.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	var cache *search.Cache
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, query cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		cache = search.NewCache(redisClient, cfg.Redis.CacheTTL)
	}

	m := metrics.New()
	lexicon := scoring.NewLexicon(cfg.Scoring.ExtraKeywords)
	analyzer := scoring.NewAnalyzer(lexicon)
	broker := status.NewBroker()
	cell := status.NewCell(broker)
	searchSvc := search.NewService(docStore, cache)
	pipeline := ingest.New(docStore, analyzer, broker, cache, m, cfg.Limits.MaxBatchSize)

	if len(cfg.Kafka.Brokers) > 0 {
		statusProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.StatusUpdates)
		dataProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DataUpdates)
		defer statusProducer.Close()
		defer dataProducer.Close()
		go relay.New(broker, statusProducer, dataProducer).Run(ctx)
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := docStore.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	limiters := server.NewLimiters(cfg.Limits, m)
	defer limiters.Close()

	handler := server.NewHandler(pipeline, searchSvc, docStore, analyzer, cell, broker, m, cfg.Server.Production)
	router := server.NewRouter(handler, limiters, checker, m, cfg.Metrics.Enabled, cfg.Server.WriteTimeout)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays unset so the event stream can outlive ordinary
		// requests; the per-route timeout middleware bounds everything else.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "production", cfg.Server.Production)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
