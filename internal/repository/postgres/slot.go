package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
)

const slotColumns = `id, provider_id, date, start_time, end_time, status, reservation_id, version, created_at, updated_at`

func (r *slotRepository) ListSlots(ctx context.Context, providerID uuid.UUID, date string) (_ []model.Slot, err error) {
	defer func() { r.track("list_slots", err) }()

	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE provider_id = $1 AND date = $2
		ORDER BY start_time ASC
	`
	var slots []model.Slot
	if err := r.db.SelectContext(ctx, &slots, query, providerID, date); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) GetSlot(ctx context.Context, id uuid.UUID) (_ *model.Slot, err error) {
	defer func() { r.track("get_slot", err) }()

	query := `SELECT ` + slotColumns + ` FROM slots WHERE id = $1`

	var slot model.Slot
	err = r.db.GetContext(ctx, &slot, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

// SeedSlots inserts only slot ids not yet present; slots that were already
// claimed or booked keep their state across shift edits.
func (r *slotRepository) SeedSlots(ctx context.Context, slots []model.Slot) (err error) {
	if len(slots) == 0 {
		return nil
	}
	defer func() { r.track("seed_slots", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO slots (
				id, provider_id, date, start_time, end_time,
				status, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`
		now := time.Now()
		for i := range slots {
			slot := slots[i]
			slot.Status = model.SlotStatusOpen
			slot.Version = 1

			result, err := tx.ExecContext(ctx, query,
				slot.ID,
				slot.ProviderID,
				slot.Date,
				slot.StartTime,
				slot.EndTime,
				slot.Status,
				slot.Version,
				now,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to seed slot %s: %w", slot.ID, err)
			}

			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rows == 0 {
				continue
			}
			if err := appendSlotChange(ctx, tx, &slot); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *slotRepository) PruneOpenSlots(ctx context.Context, providerID uuid.UUID, date string, keep []uuid.UUID) (err error) {
	defer func() { r.track("prune_open_slots", err) }()

	keepIDs := make([]string, len(keep))
	for i, id := range keep {
		keepIDs[i] = id.String()
	}

	query := `
		DELETE FROM slots
		WHERE provider_id = $1 AND date = $2 AND status = $3
		AND NOT (id = ANY($4))
	`
	_, err = r.db.ExecContext(ctx, query, providerID, date, model.SlotStatusOpen, pq.Array(keepIDs))
	if err != nil {
		return fmt.Errorf("failed to prune open slots: %w", err)
	}
	return nil
}

// ClaimSlot is the core compare-and-set: exactly one of N concurrent claims
// with the same expected version can match the WHERE clause.
func (r *slotRepository) ClaimSlot(ctx context.Context, slotID uuid.UUID, expectedVersion int64, reservationID uuid.UUID) (_ *model.Slot, err error) {
	defer func() { r.track("claim_slot", err) }()

	query := `
		UPDATE slots
		SET status = $1, reservation_id = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND status = $5 AND version = $6
		RETURNING ` + slotColumns

	var slot model.Slot
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &slot, query,
			model.SlotStatusReserved,
			reservationID,
			time.Now(),
			slotID,
			model.SlotStatusOpen,
			expectedVersion,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to claim slot: %w", err)
		}
		return appendSlotChange(ctx, tx, &slot)
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *slotRepository) ReleaseSlot(ctx context.Context, slotID, reservationID uuid.UUID) (_ *model.Slot, err error) {
	defer func() { r.track("release_slot", err) }()

	query := `
		UPDATE slots
		SET status = $1, reservation_id = NULL, version = version + 1, updated_at = $2
		WHERE id = $3 AND status = $4 AND reservation_id = $5
		RETURNING ` + slotColumns

	var slot model.Slot
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &slot, query,
			model.SlotStatusOpen,
			time.Now(),
			slotID,
			model.SlotStatusReserved,
			reservationID,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrStaleReservation
		}
		if err != nil {
			return fmt.Errorf("failed to release slot: %w", err)
		}
		return appendSlotChange(ctx, tx, &slot)
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *slotRepository) ConfirmSlot(ctx context.Context, slotID, reservationID uuid.UUID) (_ *model.Slot, err error) {
	defer func() { r.track("confirm_slot", err) }()

	query := `
		UPDATE slots
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND status = $4 AND reservation_id = $5
		RETURNING ` + slotColumns

	var slot model.Slot
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &slot, query,
			model.SlotStatusBooked,
			time.Now(),
			slotID,
			model.SlotStatusReserved,
			reservationID,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrStaleReservation
		}
		if err != nil {
			return fmt.Errorf("failed to confirm slot: %w", err)
		}
		return appendSlotChange(ctx, tx, &slot)
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}
