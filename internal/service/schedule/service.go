// Package schedule owns shift ingestion and schedule reads. Ingesting a
// shift regenerates the provider's slots for that date: identities are
// deterministic, so surviving windows keep their slots (and any reservations
// on them) while windows the new definition no longer produces are pruned if
// still open.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/internal/slotgen"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
)

type Service struct {
	shifts repository.ShiftRepository
	slots  repository.SlotRepository
	cache  *gocache.Cache
	logger *logger.Logger
}

func NewService(
	shifts repository.ShiftRepository,
	slots repository.SlotRepository,
	cacheTTL time.Duration,
	logger *logger.Logger,
) *Service {
	return &Service{
		shifts: shifts,
		slots:  slots,
		cache:  gocache.New(cacheTTL, 2*cacheTTL),
		logger: logger,
	}
}

func cacheKey(providerID uuid.UUID, date string) string {
	return providerID.String() + "/" + date
}

// IngestShift stores a shift definition and materializes its slots.
// Re-ingesting the same provider/date is the invalidation path for an edited
// shift: slots whose windows survive are untouched, new windows are seeded
// open, and open slots outside the new definition are pruned. Reserved and
// booked slots are never pruned.
func (s *Service) IngestShift(ctx context.Context, req *model.IngestShiftRequest) (*model.ShiftDefinition, []model.Slot, error) {
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid provider id", slotgen.ErrInvalidShift)
	}

	shift := &model.ShiftDefinition{
		ProviderID:                  providerID,
		Date:                        req.Date,
		StartTime:                   req.StartTime,
		EndTime:                     req.EndTime,
		ConsultationDurationMinutes: req.ConsultationDurationMinutes,
		WaitingTimeMinutes:          req.WaitingTimeMinutes,
		Breaks:                      req.Breaks,
	}

	generated, err := slotgen.Generate(shift)
	if err != nil {
		return nil, nil, err
	}

	if err := s.shifts.UpsertShift(ctx, shift); err != nil {
		return nil, nil, fmt.Errorf("failed to store shift: %w", err)
	}
	if err := s.slots.SeedSlots(ctx, generated); err != nil {
		return nil, nil, fmt.Errorf("failed to seed slots: %w", err)
	}

	keep := make([]uuid.UUID, len(generated))
	for i, slot := range generated {
		keep[i] = slot.ID
	}
	if err := s.slots.PruneOpenSlots(ctx, providerID, shift.Date, keep); err != nil {
		return nil, nil, fmt.Errorf("failed to prune slots: %w", err)
	}

	s.cache.Delete(cacheKey(providerID, shift.Date))
	s.logger.Info("shift ingested",
		"provider_id", providerID.String(),
		"date", shift.Date,
		"slots", len(generated))
	return shift, generated, nil
}

// maxScheduleRange bounds a single schedule read, in inclusive days.
const maxScheduleRange = 31

// ErrInvalidRange rejects a malformed or oversized date range.
var ErrInvalidRange = errors.New("invalid schedule range")

// ViewSchedule returns the provider's slots for the inclusive date range, in
// date then start-time order. Responses are cached briefly per date; viewers
// needing liveness subscribe to the change stream instead. A date with a
// stored shift but no slots yet is seeded lazily from the definition.
func (s *Service) ViewSchedule(ctx context.Context, providerID uuid.UUID, from, to string) ([]model.Slot, error) {
	start, err := model.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	end, err := model.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to, from)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxScheduleRange {
		return nil, fmt.Errorf("%w: range exceeds %d days", ErrInvalidRange, maxScheduleRange)
	}

	var slots []model.Slot
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		daySlots, err := s.viewDate(ctx, providerID, d.Format(model.DateLayout))
		if err != nil {
			return nil, err
		}
		slots = append(slots, daySlots...)
	}
	return slots, nil
}

func (s *Service) viewDate(ctx context.Context, providerID uuid.UUID, date string) ([]model.Slot, error) {
	key := cacheKey(providerID, date)
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]model.Slot), nil
	}

	slots, err := s.slots.ListSlots(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}

	if len(slots) == 0 {
		slots, err = s.seedFromShift(ctx, providerID, date)
		if err != nil {
			return nil, err
		}
	}

	s.cache.SetDefault(key, slots)
	return slots, nil
}

func (s *Service) seedFromShift(ctx context.Context, providerID uuid.UUID, date string) ([]model.Slot, error) {
	shift, err := s.shifts.GetShift(ctx, providerID, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return []model.Slot{}, nil
		}
		return nil, fmt.Errorf("failed to read shift: %w", err)
	}

	generated, err := slotgen.Generate(shift)
	if err != nil {
		return nil, err
	}
	if err := s.slots.SeedSlots(ctx, generated); err != nil {
		return nil, fmt.Errorf("failed to seed slots: %w", err)
	}

	s.logger.Info("seeded schedule lazily",
		"provider_id", providerID.String(), "date", date, "slots", len(generated))
	return s.slots.ListSlots(ctx, providerID, date)
}

// GetShift returns the stored definition for a provider/date.
func (s *Service) GetShift(ctx context.Context, providerID uuid.UUID, date string) (*model.ShiftDefinition, error) {
	return s.shifts.GetShift(ctx, providerID, date)
}
