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

	"github.com/attaboy/settlement/internal/handler"
	"github.com/attaboy/settlement/internal/infra"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox relay failed", "error", err)
		os.Exit(1)
	}
}

// run relays event_outbox rows to Kafka. Run one relay per database: rows
// are fetched without SKIP LOCKED, so two relays would publish twice.
func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("outbox-relay connected to postgres")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()
	if !producer.Enabled() {
		logger.Warn("kafka disabled; events will be marked published without leaving the process")
	}

	metrics := infra.NewMetrics(prometheus.DefaultRegisterer)
	poller := infra.NewOutboxPoller(
		repository.NewOutboxFeed(pool, repository.NewOutboxRepository()),
		producer,
		metrics,
		logger,
	).WithInterval(cfg.OutboxPollInterval, cfg.OutboxBatchSize).WithTopicPrefix(cfg.KafkaTopicPrefix)

	r := chi.NewRouter()
	r.Use(handler.RequestID)
	r.Use(handler.Recovery(logger))
	r.Get("/health", handler.HealthHandler(func(ctx context.Context) error {
		return infra.HealthCheck(ctx, pool)
	}))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.RelayPort),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("outbox-relay listener starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("outbox-relay shutdown signal received")
	case err := <-errCh:
		stop()
		<-done
		return fmt.Errorf("outbox-relay listener: %w", err)
	}
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("outbox-relay shutdown failed: %w", err)
	}

	logger.Info("outbox-relay stopped gracefully")
	return nil
}
