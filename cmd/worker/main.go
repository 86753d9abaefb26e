// The worker runs the background loops that keep availability honest: the
// outbox processor relaying committed slot changes to the broker, and the
// expiry sweeper returning timed-out reservations to open. Run exactly one
// worker per deployment so outbox events keep their commit order.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/scheduler-api/internal/config"
	"github.com/jwalitptl/scheduler-api/internal/repository/postgres"
	bookingService "github.com/jwalitptl/scheduler-api/internal/service/booking"
	"github.com/jwalitptl/scheduler-api/internal/worker"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/messaging/redis"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	brokerLogger := log.With().Str("component", "redis-broker").Logger()
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &brokerLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	m := metrics.NewMetrics("scheduler", "worker")

	slotRepo := postgres.NewSlotRepository(db, m)
	reservationRepo := postgres.NewReservationRepository(db, m)
	outboxRepo := postgres.NewOutboxRepository(db, m)

	bookings := bookingService.NewService(slotRepo, reservationRepo, cfg.Scheduling.ReservationTTL, appLogger, m)

	processor, err := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:    cfg.Scheduling.OutboxBatchSize,
		PollInterval: cfg.Scheduling.OutboxPollInterval,
	}, appLogger, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build outbox processor")
	}

	sweeper := worker.NewExpirySweeper(bookings, worker.ExpirySweeperConfig{
		Interval:  cfg.Scheduling.SweepInterval,
		BatchSize: cfg.Scheduling.SweepBatchSize,
	}, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	// Metrics-only HTTP listener.
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port+1),
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("serving worker metrics", "port", cfg.Server.Port+1)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error(err, "metrics listener failed")
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "metrics listener shutdown failed")
	}
	wg.Wait()
}
