package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

// BaseRepository provides shared transaction handling and operation counters
// for all repositories.
type BaseRepository struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
}

func NewBaseRepository(db *sqlx.DB, m *metrics.Metrics) BaseRepository {
	return BaseRepository{db: db, metrics: m}
}

func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// track counts one repository operation. Expected compare-and-set losses are
// outcomes, not failures, and are counted separately from real errors.
func (r *BaseRepository) track(operation string, err error) {
	if r.metrics == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrStaleReservation):
		status = "contention"
	default:
		status = "error"
	}
	r.metrics.DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// WithTx executes fn within a transaction.
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// appendSlotChange records an outbox row for a committed slot transition in
// the same transaction, so publish order equals commit order.
func appendSlotChange(ctx context.Context, tx *sqlx.Tx, slot *model.Slot) error {
	change := model.SlotChange{
		ProviderID: slot.ProviderID,
		Date:       slot.Date,
		SlotID:     slot.ID,
		Status:     slot.Status,
		Version:    slot.Version,
		OccurredAt: time.Now(),
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal slot change: %w", err)
	}

	query := `
		INSERT INTO slot_outbox (channel, payload, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = tx.ExecContext(ctx, query,
		model.SlotChannel(slot.ProviderID),
		payload,
		model.OutboxStatusPending,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append slot change: %w", err)
	}
	return nil
}

type slotRepository struct {
	BaseRepository
}

func NewSlotRepository(db *sqlx.DB, m *metrics.Metrics) repository.SlotRepository {
	return &slotRepository{NewBaseRepository(db, m)}
}

type reservationRepository struct {
	BaseRepository
}

func NewReservationRepository(db *sqlx.DB, m *metrics.Metrics) repository.ReservationRepository {
	return &reservationRepository{NewBaseRepository(db, m)}
}

type shiftRepository struct {
	BaseRepository
}

func NewShiftRepository(db *sqlx.DB, m *metrics.Metrics) repository.ShiftRepository {
	return &shiftRepository{NewBaseRepository(db, m)}
}

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB, m *metrics.Metrics) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db, m)}
}
