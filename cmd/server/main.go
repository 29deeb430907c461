package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stakemetrics/query-cost-api/internal/config"
	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/database"
	"github.com/stakemetrics/query-cost-api/internal/kafka"
	"github.com/stakemetrics/query-cost-api/internal/observability"
	"github.com/stakemetrics/query-cost-api/internal/server"
	"github.com/stakemetrics/query-cost-api/internal/store"
)

// consumerRunner is satisfied by both kafka consumer flavors.
type consumerRunner interface {
	Run(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "query-cost-api")
	if err != nil {
		logger.Error("setup tracing", "error", err)
		os.Exit(1) //nolint:gocritic // startup exits before meaningful defers
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("shutdown tracing", "error", err)
		}
	}()

	// Database
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	s := store.New(pool, metrics)
	readiness := database.NewPoolReadiness(pool)

	// DB pool stats collector
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat := pool.Stat()
				metrics.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
				metrics.DBPoolConnections.WithLabelValues("active").Set(float64(stat.AcquiredConns()))
				metrics.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
			}
		}
	}()

	// Kafka estimation pipeline
	estimator := cost.Estimator{MaxDepth: cfg.MaxQueryDepth}
	var consumer consumerRunner
	if cfg.ConsumerMode == config.ConsumerModeBatch {
		consumer = kafka.NewBatchConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID,
			cfg.BatchSize, cfg.BatchFlushInterval, estimator, s, metrics, logger)
	} else {
		consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID,
			estimator, s, metrics, logger)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close", "error", err)
		}
	}()
	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Error("kafka consumer", "error", err)
		}
	}()

	// HTTP API
	srv := server.New(cfg, s, metrics, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           http.TimeoutHandler(srv.Routes(readiness), 25*time.Second, `{"errors":[{"message":"request timeout","code":"TIMEOUT"}]}`),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "consumer_mode", cfg.ConsumerMode)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
