// Package memory provides an in-process implementation of the repository
// contracts with the same compare-and-set semantics as the postgres store.
// It backs unit tests and embedded deployments without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
)

// Store holds slots, reservations, shifts and the change outbox behind one
// mutex; every mutating method is a single critical section, which is what
// gives claims their atomicity here.
type Store struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*model.Slot
	reservations map[uuid.UUID]*model.Reservation
	shifts       map[string]*model.ShiftDefinition
	outbox       []*model.OutboxEvent
	nextSeq      int64
}

var (
	_ repository.SlotRepository        = (*Store)(nil)
	_ repository.ReservationRepository = (*Store)(nil)
	_ repository.ShiftRepository       = (*Store)(nil)
	_ repository.OutboxRepository      = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		slots:        make(map[uuid.UUID]*model.Slot),
		reservations: make(map[uuid.UUID]*model.Reservation),
		shifts:       make(map[string]*model.ShiftDefinition),
		nextSeq:      1,
	}
}

func shiftKey(providerID uuid.UUID, date string) string {
	return providerID.String() + "/" + date
}

func (s *Store) appendChange(slot *model.Slot) {
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
		return
	}
	s.outbox = append(s.outbox, &model.OutboxEvent{
		Seq:       s.nextSeq,
		ID:        uuid.New(),
		Channel:   model.SlotChannel(slot.ProviderID),
		Payload:   payload,
		Status:    model.OutboxStatusPending,
		CreatedAt: time.Now(),
	})
	s.nextSeq++
}

func (s *Store) ListSlots(_ context.Context, providerID uuid.UUID, date string) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slots []model.Slot
	for _, slot := range s.slots {
		if slot.ProviderID == providerID && slot.Date == date {
			slots = append(slots, *slot)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })
	return slots, nil
}

func (s *Store) GetSlot(_ context.Context, id uuid.UUID) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *slot
	return &copied, nil
}

func (s *Store) SeedSlots(_ context.Context, slots []model.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range slots {
		slot := slots[i]
		if _, exists := s.slots[slot.ID]; exists {
			continue
		}
		slot.Status = model.SlotStatusOpen
		slot.Version = 1
		now := time.Now()
		slot.CreatedAt = now
		slot.UpdatedAt = now
		s.slots[slot.ID] = &slot
		s.appendChange(&slot)
	}
	return nil
}

func (s *Store) PruneOpenSlots(_ context.Context, providerID uuid.UUID, date string, keep []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepSet := make(map[uuid.UUID]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	for id, slot := range s.slots {
		if slot.ProviderID != providerID || slot.Date != date {
			continue
		}
		if slot.Status != model.SlotStatusOpen {
			continue
		}
		if _, ok := keepSet[id]; !ok {
			delete(s.slots, id)
		}
	}
	return nil
}

func (s *Store) ClaimSlot(_ context.Context, slotID uuid.UUID, expectedVersion int64, reservationID uuid.UUID) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if slot.Status != model.SlotStatusOpen || slot.Version != expectedVersion {
		return nil, repository.ErrConflict
	}

	slot.Status = model.SlotStatusReserved
	rid := reservationID
	slot.ReservationID = &rid
	slot.Version++
	slot.UpdatedAt = time.Now()
	s.appendChange(slot)

	copied := *slot
	return &copied, nil
}

func (s *Store) ReleaseSlot(_ context.Context, slotID, reservationID uuid.UUID) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if slot.Status != model.SlotStatusReserved || slot.ReservationID == nil || *slot.ReservationID != reservationID {
		return nil, repository.ErrStaleReservation
	}

	slot.Status = model.SlotStatusOpen
	slot.ReservationID = nil
	slot.Version++
	slot.UpdatedAt = time.Now()
	s.appendChange(slot)

	copied := *slot
	return &copied, nil
}

func (s *Store) ConfirmSlot(_ context.Context, slotID, reservationID uuid.UUID) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if slot.Status != model.SlotStatusReserved || slot.ReservationID == nil || *slot.ReservationID != reservationID {
		return nil, repository.ErrStaleReservation
	}

	slot.Status = model.SlotStatusBooked
	slot.Version++
	slot.UpdatedAt = time.Now()
	s.appendChange(slot)

	copied := *slot
	return &copied, nil
}

func (s *Store) CreateReservation(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[res.ID]; exists {
		return fmt.Errorf("reservation %s already exists", res.ID)
	}
	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now
	copied := *res
	s.reservations[res.ID] = &copied
	return nil
}

func (s *Store) GetReservation(_ context.Context, id uuid.UUID) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *res
	return &copied, nil
}

func (s *Store) UpdateReservationStatus(_ context.Context, id uuid.UUID, from, to model.ReservationStatus, reason *string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if res.Status != from {
		return nil, repository.ErrConflict
	}

	res.Status = to
	if reason != nil {
		res.CancelReason = reason
	}
	res.UpdatedAt = time.Now()

	copied := *res
	return &copied, nil
}

func (s *Store) ListExpiredPending(_ context.Context, asOf time.Time, limit int) ([]*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*model.Reservation
	for _, res := range s.reservations {
		if res.Status == model.ReservationStatusPending && res.ExpiresAt.Before(asOf) {
			copied := *res
			expired = append(expired, &copied)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *Store) UpsertShift(_ context.Context, shift *model.ShiftDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *shift
	now := time.Now()
	if existing, ok := s.shifts[shiftKey(shift.ProviderID, shift.Date)]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.shifts[shiftKey(shift.ProviderID, shift.Date)] = &copied
	return nil
}

func (s *Store) GetShift(_ context.Context, providerID uuid.UUID, date string) (*model.ShiftDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[shiftKey(providerID, date)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *shift
	return &copied, nil
}

func (s *Store) ListPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*model.OutboxEvent
	for _, ev := range s.outbox {
		if ev.Status != model.OutboxStatusPending {
			continue
		}
		copied := *ev
		pending = append(pending, &copied)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.outbox {
		if ev.Seq == seq {
			now := time.Now()
			ev.Status = model.OutboxStatusProcessed
			ev.ProcessedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) MarkEventFailed(_ context.Context, seq int64, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.outbox {
		if ev.Seq == seq {
			ev.Status = model.OutboxStatusFailed
			ev.ErrorMessage = &errMessage
			return nil
		}
	}
	return repository.ErrNotFound
}
