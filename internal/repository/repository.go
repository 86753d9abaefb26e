// Package repository defines the storage contracts for the scheduling engine.
// The slot store is the sole unit of mutual exclusion: all slot transitions
// go through version- or owner-checked conditional updates, never through
// unconditional overwrite.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
)

var (
	// ErrNotFound reports a missing slot, reservation or shift.
	ErrNotFound = errors.New("record not found")

	// ErrConflict reports a failed compare-and-set: the slot was not open at
	// the presented version. Callers decide whether to retry; the store never
	// does.
	ErrConflict = errors.New("slot version conflict")

	// ErrStaleReservation reports a release or confirm against a slot the
	// reservation no longer owns, typically because a racing transition
	// resolved it first.
	ErrStaleReservation = errors.New("reservation no longer owns slot")
)

type (
	// SlotRepository is the availability store.
	SlotRepository interface {
		// ListSlots returns a read-only snapshot of a provider's slots for a date,
		// ordered by start time.
		ListSlots(ctx context.Context, providerID uuid.UUID, date string) ([]model.Slot, error)

		// GetSlot returns a single slot by id.
		GetSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error)

		// SeedSlots upserts generated slots. Existing ids are left untouched;
		// only newly introduced ids are inserted as open. Newly inserted slots
		// produce outbox events.
		SeedSlots(ctx context.Context, slots []model.Slot) error

		// PruneOpenSlots deletes open slots for the provider/date whose ids are
		// not in keep. Reserved and booked slots are never pruned.
		PruneOpenSlots(ctx context.Context, providerID uuid.UUID, date string, keep []uuid.UUID) error

		// ClaimSlot atomically transitions open->reserved iff the slot is open
		// at exactly expectedVersion. Returns ErrConflict otherwise.
		ClaimSlot(ctx context.Context, slotID uuid.UUID, expectedVersion int64, reservationID uuid.UUID) (*model.Slot, error)

		// ReleaseSlot transitions reserved->open iff reservationID still owns
		// the slot. Returns ErrStaleReservation otherwise.
		ReleaseSlot(ctx context.Context, slotID, reservationID uuid.UUID) (*model.Slot, error)

		// ConfirmSlot transitions reserved->booked iff reservationID still owns
		// the slot. Returns ErrStaleReservation otherwise.
		ConfirmSlot(ctx context.Context, slotID, reservationID uuid.UUID) (*model.Slot, error)
	}

	ReservationRepository interface {
		CreateReservation(ctx context.Context, res *model.Reservation) error
		GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error)

		// UpdateReservationStatus transitions from->to atomically; zero rows
		// affected means the reservation was not in the expected state and
		// yields ErrConflict. Terminal states are immutable by construction.
		UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to model.ReservationStatus, reason *string) (*model.Reservation, error)

		// ListExpiredPending returns pending reservations whose expiry has
		// passed, oldest first.
		ListExpiredPending(ctx context.Context, asOf time.Time, limit int) ([]*model.Reservation, error)
	}

	ShiftRepository interface {
		UpsertShift(ctx context.Context, shift *model.ShiftDefinition) error
		GetShift(ctx context.Context, providerID uuid.UUID, date string) (*model.ShiftDefinition, error)
	}

	// OutboxRepository drains slot-change events in commit order.
	OutboxRepository interface {
		ListPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkEventProcessed(ctx context.Context, seq int64) error
		MarkEventFailed(ctx context.Context, seq int64, errMessage string) error
	}
)
