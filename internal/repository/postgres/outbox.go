package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/scheduler-api/internal/model"
)

func (r *outboxRepository) ListPendingEvents(ctx context.Context, limit int) (_ []*model.OutboxEvent, err error) {
	defer func() { r.track("list_pending_events", err) }()

	query := `
		SELECT seq, id, channel, payload, status, error_message, created_at, processed_at
		FROM slot_outbox
		WHERE status = $1
		ORDER BY seq ASC
		LIMIT $2
	`
	var events []*model.OutboxEvent
	err = r.db.SelectContext(ctx, &events, query, model.OutboxStatusPending, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkEventProcessed(ctx context.Context, seq int64) (err error) {
	defer func() { r.track("mark_event_processed", err) }()

	query := `
		UPDATE slot_outbox
		SET status = $1, processed_at = $2
		WHERE seq = $3
	`
	_, err = r.db.ExecContext(ctx, query, model.OutboxStatusProcessed, time.Now(), seq)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkEventFailed(ctx context.Context, seq int64, errMessage string) (err error) {
	defer func() { r.track("mark_event_failed", err) }()

	query := `
		UPDATE slot_outbox
		SET status = $1, error_message = $2
		WHERE seq = $3
	`
	_, err = r.db.ExecContext(ctx, query, model.OutboxStatusFailed, errMessage, seq)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return nil
}
