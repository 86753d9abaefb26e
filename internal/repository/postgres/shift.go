package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
)

type shiftRow struct {
	ProviderID                  uuid.UUID       `db:"provider_id"`
	Date                        string          `db:"date"`
	StartTime                   string          `db:"start_time"`
	EndTime                     string          `db:"end_time"`
	ConsultationDurationMinutes int             `db:"consultation_duration_minutes"`
	WaitingTimeMinutes          int             `db:"waiting_time_minutes"`
	Breaks                      json.RawMessage `db:"breaks"`
	CreatedAt                   time.Time       `db:"created_at"`
	UpdatedAt                   time.Time       `db:"updated_at"`
}

func (r *shiftRepository) UpsertShift(ctx context.Context, shift *model.ShiftDefinition) (err error) {
	defer func() { r.track("upsert_shift", err) }()

	breaks, err := json.Marshal(shift.Breaks)
	if err != nil {
		return fmt.Errorf("failed to marshal breaks: %w", err)
	}

	query := `
		INSERT INTO shifts (
			provider_id, date, start_time, end_time,
			consultation_duration_minutes, waiting_time_minutes, breaks,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_id, date) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			consultation_duration_minutes = EXCLUDED.consultation_duration_minutes,
			waiting_time_minutes = EXCLUDED.waiting_time_minutes,
			breaks = EXCLUDED.breaks,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		shift.ProviderID,
		shift.Date,
		shift.StartTime,
		shift.EndTime,
		shift.ConsultationDurationMinutes,
		shift.WaitingTimeMinutes,
		breaks,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert shift: %w", err)
	}
	return nil
}

func (r *shiftRepository) GetShift(ctx context.Context, providerID uuid.UUID, date string) (_ *model.ShiftDefinition, err error) {
	defer func() { r.track("get_shift", err) }()

	query := `
		SELECT provider_id, date, start_time, end_time,
			   consultation_duration_minutes, waiting_time_minutes, breaks,
			   created_at, updated_at
		FROM shifts
		WHERE provider_id = $1 AND date = $2
	`
	var row shiftRow
	err = r.db.GetContext(ctx, &row, query, providerID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shift: %w", err)
	}

	shift := &model.ShiftDefinition{
		ProviderID:                  row.ProviderID,
		Date:                        row.Date,
		StartTime:                   row.StartTime,
		EndTime:                     row.EndTime,
		ConsultationDurationMinutes: row.ConsultationDurationMinutes,
		WaitingTimeMinutes:          row.WaitingTimeMinutes,
		CreatedAt:                   row.CreatedAt,
		UpdatedAt:                   row.UpdatedAt,
	}
	if len(row.Breaks) > 0 {
		if err := json.Unmarshal(row.Breaks, &shift.Breaks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breaks: %w", err)
		}
	}
	return shift, nil
}
