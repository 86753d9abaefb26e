package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
)

const reservationColumns = `id, slot_id, user_id, patient_name, status, cancel_reason, created_at, expires_at, updated_at`

func (r *reservationRepository) CreateReservation(ctx context.Context, res *model.Reservation) (err error) {
	defer func() { r.track("create_reservation", err) }()

	query := `
		INSERT INTO reservations (
			id, slot_id, user_id, patient_name, status,
			created_at, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, query,
		res.ID,
		res.SlotID,
		res.UserID,
		res.PatientName,
		res.Status,
		res.CreatedAt,
		res.ExpiresAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (r *reservationRepository) GetReservation(ctx context.Context, id uuid.UUID) (_ *model.Reservation, err error) {
	defer func() { r.track("get_reservation", err) }()

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	var res model.Reservation
	err = r.db.GetContext(ctx, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

// UpdateReservationStatus applies from->to conditionally. Terminal statuses
// never match the from clause again, which makes them immutable.
func (r *reservationRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to model.ReservationStatus, reason *string) (_ *model.Reservation, err error) {
	defer func() { r.track("update_reservation_status", err) }()

	query := `
		UPDATE reservations
		SET status = $1, cancel_reason = COALESCE($2, cancel_reason), updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING ` + reservationColumns

	var res model.Reservation
	err = r.db.GetContext(ctx, &res, query, to, reason, time.Now(), id, from)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	return &res, nil
}

func (r *reservationRepository) ListExpiredPending(ctx context.Context, asOf time.Time, limit int) (_ []*model.Reservation, err error) {
	defer func() { r.track("list_expired_pending", err) }()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`
	var reservations []*model.Reservation
	err = r.db.SelectContext(ctx, &reservations, query, model.ReservationStatusPending, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	return reservations, nil
}
