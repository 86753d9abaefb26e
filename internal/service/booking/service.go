// Package booking coordinates the reservation life cycle on top of the
// availability store. The slot record is the sole unit of mutual exclusion:
// every transition goes through the store's compare-and-set operations, and
// the slot is always transitioned before the reservation so that racing
// callers are resolved by whoever wins the slot.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

var (
	// ErrSlotUnavailable is the expected contention outcome of a booking
	// attempt: the slot was claimed, booked or regenerated since the caller
	// observed it. The caller should reselect a slot, not retry.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrReservationExpired reports a confirmation arriving after the
	// reservation's TTL; the slot has been (or is being) returned to open.
	ErrReservationExpired = errors.New("reservation expired")
)

const (
	readRetryAttempts = 3
	readRetryDelay    = 50 * time.Millisecond
)

type Service struct {
	slots        repository.SlotRepository
	reservations repository.ReservationRepository
	ttl          time.Duration
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewService(
	slots repository.SlotRepository,
	reservations repository.ReservationRepository,
	ttl time.Duration,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		slots:        slots,
		reservations: reservations,
		ttl:          ttl,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// RequestBooking attempts to claim a slot for a pending reservation. Exactly
// one of any number of concurrent requests for the same slot succeeds; the
// rest receive ErrSlotUnavailable synchronously.
func (s *Service) RequestBooking(ctx context.Context, slotID, userID uuid.UUID, patientName string) (*model.Reservation, error) {
	if patientName == "" {
		return nil, fmt.Errorf("patient name is required")
	}

	slot, err := s.getSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: slot %s does not exist", ErrSlotUnavailable, slotID)
		}
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	if slot.Status != model.SlotStatusOpen {
		s.metrics.ClaimAttempts.WithLabelValues("unavailable").Inc()
		return nil, ErrSlotUnavailable
	}

	reservationID := uuid.New()
	claimed, err := s.slots.ClaimSlot(ctx, slotID, slot.Version, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			// Genuinely taken; no blind retry.
			s.metrics.ClaimAttempts.WithLabelValues("conflict").Inc()
			return nil, ErrSlotUnavailable
		}
		s.metrics.ClaimAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to claim slot: %w", err)
	}
	s.metrics.ClaimAttempts.WithLabelValues("claimed").Inc()

	res := &model.Reservation{
		ID:          reservationID,
		SlotID:      claimed.ID,
		UserID:      userID,
		PatientName: patientName,
		Status:      model.ReservationStatusPending,
		ExpiresAt:   s.now().Add(s.ttl),
	}
	if err := s.reservations.CreateReservation(ctx, res); err != nil {
		// Hand the slot back rather than leaving it reserved by a
		// reservation that was never persisted.
		if _, relErr := s.slots.ReleaseSlot(ctx, claimed.ID, reservationID); relErr != nil {
			s.logger.Error(relErr, "failed to release slot after reservation write failure",
				"slot_id", claimed.ID.String())
		}
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	s.logger.Info("slot reserved",
		"slot_id", claimed.ID.String(),
		"reservation_id", reservationID.String(),
		"expires_at", res.ExpiresAt.Format(time.RFC3339))
	return res, nil
}

// ConfirmBooking finalizes a reservation on payment success. Arriving after
// the TTL expires the reservation instead and returns ErrReservationExpired.
func (s *Service) ConfirmBooking(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	res, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case model.ReservationStatusConfirmed:
		// Payment collaborators redeliver; confirming twice is a no-op.
		return res, nil
	case model.ReservationStatusExpired:
		return nil, ErrReservationExpired
	case model.ReservationStatusReleased:
		return nil, fmt.Errorf("%w: reservation was cancelled", repository.ErrStaleReservation)
	}

	if s.now().After(res.ExpiresAt) {
		current, didExpire, err := s.expireOne(ctx, res)
		if err != nil {
			return nil, err
		}
		if didExpire {
			s.logger.Info("confirmation arrived after expiry",
				"reservation_id", res.ID.String(), "slot_id", res.SlotID.String())
			return nil, ErrReservationExpired
		}
		// A racing transition beat the expiry; report or finish its outcome.
		switch current.Status {
		case model.ReservationStatusConfirmed:
			return current, nil
		case model.ReservationStatusExpired:
			return nil, ErrReservationExpired
		case model.ReservationStatusReleased:
			return nil, fmt.Errorf("%w: reservation was cancelled", repository.ErrStaleReservation)
		}
		return s.finishConfirm(ctx, res.ID)
	}

	if _, err := s.slots.ConfirmSlot(ctx, res.SlotID, res.ID); err != nil {
		if errors.Is(err, repository.ErrStaleReservation) {
			return nil, fmt.Errorf("%w: slot no longer held", repository.ErrStaleReservation)
		}
		return nil, fmt.Errorf("failed to confirm slot: %w", err)
	}

	return s.finishConfirm(ctx, res.ID)
}

// finishConfirm transitions the reservation pending->confirmed after its
// slot is booked. Losing the CAS here can only mean a concurrent transition
// resolved the reservation first, so the current record is re-read and its
// outcome reported instead of surfacing a bare conflict.
func (s *Service) finishConfirm(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	updated, err := s.reservations.UpdateReservationStatus(ctx, reservationID, model.ReservationStatusPending, model.ReservationStatusConfirmed, nil)
	if err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("failed to confirm reservation: %w", err)
		}
		current, getErr := s.getReservation(ctx, reservationID)
		if getErr != nil {
			return nil, getErr
		}
		switch current.Status {
		case model.ReservationStatusConfirmed:
			return current, nil
		case model.ReservationStatusExpired:
			return nil, ErrReservationExpired
		default:
			return nil, fmt.Errorf("%w: reservation was cancelled", repository.ErrStaleReservation)
		}
	}

	s.metrics.BookingsConfirmed.Inc()
	s.logger.Info("booking confirmed",
		"reservation_id", updated.ID.String(), "slot_id", updated.SlotID.String())
	return updated, nil
}

// CancelBooking releases a reservation's slot on payment cancellation or an
// explicit user cancel. Cancelling a reservation that no longer owns its
// slot (already confirmed, already swept) returns ErrStaleReservation and
// mutates nothing.
func (s *Service) CancelBooking(ctx context.Context, reservationID uuid.UUID, reason string) (*model.Reservation, error) {
	res, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.slots.ReleaseSlot(ctx, res.SlotID, res.ID); err != nil {
		if errors.Is(err, repository.ErrStaleReservation) {
			s.logger.Info("stale cancel ignored",
				"reservation_id", res.ID.String(),
				"slot_id", res.SlotID.String(),
				"status", string(res.Status))
			return res, fmt.Errorf("%w: reservation already resolved", repository.ErrStaleReservation)
		}
		return nil, fmt.Errorf("failed to release slot: %w", err)
	}

	var cancelReason *string
	if reason != "" {
		cancelReason = &reason
	}
	updated, err := s.reservations.UpdateReservationStatus(ctx, res.ID, model.ReservationStatusPending, model.ReservationStatusReleased, cancelReason)
	if err != nil {
		return nil, fmt.Errorf("failed to release reservation: %w", err)
	}

	s.metrics.BookingsCancelled.Inc()
	s.logger.Info("booking cancelled",
		"reservation_id", updated.ID.String(), "slot_id", updated.SlotID.String(), "reason", reason)
	return updated, nil
}

// GetReservation returns the current reservation state.
func (s *Service) GetReservation(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	return s.getReservation(ctx, reservationID)
}

// ExpireReservations sweeps pending reservations past their TTL, returning
// their slots to open. It is safe to run concurrently with confirmations:
// the slot compare-and-set decides every race.
func (s *Service) ExpireReservations(ctx context.Context, batchSize int) (int, error) {
	timer := time.Now()
	defer func() {
		s.metrics.ExpirySweepDuration.Observe(time.Since(timer).Seconds())
	}()

	expired, err := s.reservations.ListExpiredPending(ctx, s.now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	swept := 0
	for _, res := range expired {
		_, didExpire, err := s.expireOne(ctx, res)
		if err != nil {
			s.logger.Error(err, "failed to expire reservation", "reservation_id", res.ID.String())
			continue
		}
		if didExpire {
			swept++
		}
	}

	s.metrics.ExpirySweepBatchSize.Observe(float64(swept))
	if swept > 0 {
		s.logger.Info("expiry sweep released slots", "count", swept)
	}
	return swept, nil
}

// expireOne returns the reservation's current record and whether this call
// expired it.
func (s *Service) expireOne(ctx context.Context, res *model.Reservation) (*model.Reservation, bool, error) {
	if _, err := s.slots.ReleaseSlot(ctx, res.SlotID, res.ID); err != nil {
		if !errors.Is(err, repository.ErrStaleReservation) {
			return nil, false, fmt.Errorf("failed to release slot: %w", err)
		}
		// The slot is no longer held by this reservation. If a racing
		// confirmation already booked it, that confirmation owns the
		// outcome: expiring the reservation now would strand a booked
		// slot with no confirmed reservation behind it.
		slot, slotErr := s.slots.GetSlot(ctx, res.SlotID)
		if slotErr != nil && !errors.Is(slotErr, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to read slot: %w", slotErr)
		}
		if slot != nil && slot.Status == model.SlotStatusBooked &&
			slot.ReservationID != nil && *slot.ReservationID == res.ID {
			return res, false, nil
		}
	}

	updated, err := s.reservations.UpdateReservationStatus(ctx, res.ID, model.ReservationStatusPending, model.ReservationStatusExpired, nil)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			current, getErr := s.getReservation(ctx, res.ID)
			return current, false, getErr
		}
		return nil, false, fmt.Errorf("failed to expire reservation: %w", err)
	}

	s.metrics.ReservationsExpired.Inc()
	return updated, true, nil
}

// getSlot retries idempotent reads with bounded backoff. Writes are never
// blindly retried.
func (s *Service) getSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	var slot *model.Slot
	err := s.withReadRetry(ctx, func() error {
		var readErr error
		slot, readErr = s.slots.GetSlot(ctx, id)
		return readErr
	})
	return slot, err
}

func (s *Service) getReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var res *model.Reservation
	err := s.withReadRetry(ctx, func() error {
		var readErr error
		res, readErr = s.reservations.GetReservation(ctx, id)
		return readErr
	})
	return res, err
}

func (s *Service) withReadRetry(ctx context.Context, read func() error) error {
	var err error
	delay := readRetryDelay
	for attempt := 0; attempt < readRetryAttempts; attempt++ {
		if err = read(); err == nil || errors.Is(err, repository.ErrNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
