package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/scheduler-api/internal/service/booking"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
)

type ExpirySweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// ExpirySweeper periodically expires pending reservations whose TTL has
// passed, returning their slots to open. The sweep is idempotent and safe
// against racing confirmations, so running it alongside the API is fine.
type ExpirySweeper struct {
	bookings *booking.Service
	config   ExpirySweeperConfig
	logger   *logger.Logger
}

func NewExpirySweeper(bookings *booking.Service, config ExpirySweeperConfig, logger *logger.Logger) *ExpirySweeper {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &ExpirySweeper{bookings: bookings, config: config, logger: logger}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("starting expiry sweeper",
		"interval", w.config.Interval.String(),
		"batch_size", w.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down expiry sweeper")
			return
		case <-ticker.C:
			if _, err := w.bookings.ExpireReservations(ctx, w.config.BatchSize); err != nil {
				w.logger.Error(err, "expiry sweep failed")
			}
		}
	}
}
