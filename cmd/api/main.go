package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/scheduler-api/internal/config"
	bookingHandler "github.com/jwalitptl/scheduler-api/internal/handler/booking"
	"github.com/jwalitptl/scheduler-api/internal/handler/health"
	scheduleHandler "github.com/jwalitptl/scheduler-api/internal/handler/schedule"
	"github.com/jwalitptl/scheduler-api/internal/middleware"
	"github.com/jwalitptl/scheduler-api/internal/notifier"
	"github.com/jwalitptl/scheduler-api/internal/repository/postgres"
	"github.com/jwalitptl/scheduler-api/internal/router"
	bookingService "github.com/jwalitptl/scheduler-api/internal/service/booking"
	scheduleService "github.com/jwalitptl/scheduler-api/internal/service/schedule"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/messaging/redis"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
	"github.com/jwalitptl/scheduler-api/pkg/validator"
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

	if err := validator.RegisterClockRules(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validation rules")
	}

	m := metrics.NewMetrics("scheduler", "api")

	slotRepo := postgres.NewSlotRepository(db, m)
	reservationRepo := postgres.NewReservationRepository(db, m)
	shiftRepo := postgres.NewShiftRepository(db, m)

	schedules := scheduleService.NewService(shiftRepo, slotRepo, cfg.Scheduling.CacheTTL, appLogger)
	bookings := bookingService.NewService(slotRepo, reservationRepo, cfg.Scheduling.ReservationTTL, appLogger, m)

	changeNotifier := notifier.New(broker, appLogger, m)
	defer changeNotifier.Close()

	healthChecks := map[string]health.Check{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
		"broker":   broker.Ping,
	}

	r := router.NewRouter(router.Config{
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		Timeout:        time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		CORS:           middleware.DefaultCORSConfig(),
		MetricsPrefix:  "scheduler_api",
	},
		health.NewHandler(healthChecks),
		scheduleHandler.NewHandler(schedules, changeNotifier, appLogger),
		bookingHandler.NewHandler(bookings, appLogger),
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		appLogger.Info("starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "forced shutdown")
	}
}
