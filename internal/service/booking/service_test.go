package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/internal/repository/memory"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "booking")

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewService(store, store, 15*time.Minute, logger.NewLogger(nil), testMetrics)
	return svc, store
}

func seedOpenSlot(t *testing.T, store *memory.Store, providerID uuid.UUID) model.Slot {
	t.Helper()
	slot := model.Slot{
		ProviderID: providerID,
		Date:       "2025-03-10",
		StartTime:  "09:00",
		EndTime:    "09:30",
	}
	slot.ID = model.SlotID(slot.ProviderID, slot.Date, slot.StartTime, slot.EndTime)
	require.NoError(t, store.SeedSlots(context.Background(), []model.Slot{slot}))

	seeded, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	return *seeded
}

func TestRequestBookingClaimsOpenSlot(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())
	userID := uuid.New()

	res, err := svc.RequestBooking(context.Background(), slot.ID, userID, "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusPending, res.Status)
	assert.Equal(t, slot.ID, res.SlotID)
	assert.Equal(t, userID, res.UserID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), res.ExpiresAt, 5*time.Second)

	claimed, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusReserved, claimed.Status)
	require.NotNil(t, claimed.ReservationID)
	assert.Equal(t, res.ID, *claimed.ReservationID)
	assert.Equal(t, slot.Version+1, claimed.Version)
}

func TestRequestBookingRejectsUnknownSlot(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RequestBooking(context.Background(), uuid.New(), uuid.New(), "Ada Lovelace")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestRequestBookingRejectsReservedSlot(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	_, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	_, err = svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Grace Hopper")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestRequestBookingConcurrentSingleWinner(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Concurrent Caller")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, losers := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrSlotUnavailable):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, losers)
}

func TestConfirmBooking(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	confirmed, err := svc.ConfirmBooking(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusConfirmed, confirmed.Status)

	booked, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, booked.Status)
}

func TestConfirmBookingIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	_, err = svc.ConfirmBooking(context.Background(), res.ID)
	require.NoError(t, err)

	again, err := svc.ConfirmBooking(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusConfirmed, again.Status)
}

func TestConfirmBookingAfterExpiryReturnsSlot(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	svc.now = func() time.Time { return res.ExpiresAt.Add(time.Second) }

	_, err = svc.ConfirmBooking(context.Background(), res.ID)
	assert.ErrorIs(t, err, ErrReservationExpired)

	reopened, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ReservationID)

	stored, err := store.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusExpired, stored.Status)
}

// racingReservations runs a hook once, just before the pending->confirmed
// transition is applied, to interleave another actor between the slot
// booking and the reservation update.
type racingReservations struct {
	repository.ReservationRepository
	beforeConfirm func()
}

func (r *racingReservations) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to model.ReservationStatus, reason *string) (*model.Reservation, error) {
	if r.beforeConfirm != nil && from == model.ReservationStatusPending && to == model.ReservationStatusConfirmed {
		hook := r.beforeConfirm
		r.beforeConfirm = nil
		hook()
	}
	return r.ReservationRepository.UpdateReservationStatus(ctx, id, from, to, reason)
}

// A sweep firing between the slot booking and the reservation update must
// not expire the reservation: the slot would stay booked with no confirmed
// reservation behind it.
func TestConfirmBookingSurvivesConcurrentSweep(t *testing.T) {
	store := memory.NewStore()
	racing := &racingReservations{ReservationRepository: store}
	svc := NewService(store, racing, 15*time.Minute, logger.NewLogger(nil), testMetrics)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	sweeper := NewService(store, store, 15*time.Minute, logger.NewLogger(nil), testMetrics)
	sweeper.now = func() time.Time { return res.ExpiresAt.Add(time.Millisecond) }
	racing.beforeConfirm = func() {
		swept, sweepErr := sweeper.ExpireReservations(context.Background(), 100)
		require.NoError(t, sweepErr)
		assert.Zero(t, swept)
	}

	confirmed, err := svc.ConfirmBooking(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusConfirmed, confirmed.Status)

	booked, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, booked.Status)

	stored, err := store.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusConfirmed, stored.Status)
}

// The losing side of the race: the sweep releases the slot before the
// confirmation reaches it, so the confirmation must report expiry rather
// than a raw conflict.
func TestConfirmBookingLosesToSweepBeforeSlotBooked(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	sweeper := NewService(store, store, 15*time.Minute, logger.NewLogger(nil), testMetrics)
	sweeper.now = func() time.Time { return res.ExpiresAt.Add(time.Millisecond) }
	swept, err := sweeper.ExpireReservations(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = svc.ConfirmBooking(context.Background(), res.ID)
	assert.ErrorIs(t, err, ErrReservationExpired)

	reopened, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusOpen, reopened.Status)
}

func TestCancelBookingReleasesSlot(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	cancelled, err := svc.CancelBooking(context.Background(), res.ID, "payment declined")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusReleased, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "payment declined", *cancelled.CancelReason)

	reopened, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ReservationID)
}

func TestCancelConfirmedBookingIsStale(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)
	_, err = svc.ConfirmBooking(context.Background(), res.ID)
	require.NoError(t, err)

	_, err = svc.CancelBooking(context.Background(), res.ID, "changed my mind")
	assert.ErrorIs(t, err, repository.ErrStaleReservation)

	stillBooked, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, stillBooked.Status)

	stored, err := store.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusConfirmed, stored.Status)
}

func TestExpireReservationsSweep(t *testing.T) {
	svc, store := newTestService(t)
	providerID := uuid.New()

	var expiredSlots []uuid.UUID
	for _, window := range [][2]string{{"09:00", "09:30"}, {"09:40", "10:10"}} {
		slot := model.Slot{ProviderID: providerID, Date: "2025-03-10", StartTime: window[0], EndTime: window[1]}
		slot.ID = model.SlotID(slot.ProviderID, slot.Date, slot.StartTime, slot.EndTime)
		require.NoError(t, store.SeedSlots(context.Background(), []model.Slot{slot}))
		res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Expiring Patient")
		require.NoError(t, err)
		expiredSlots = append(expiredSlots, res.SlotID)
	}

	fresh := model.Slot{ProviderID: providerID, Date: "2025-03-10", StartTime: "11:00", EndTime: "11:30"}
	fresh.ID = model.SlotID(fresh.ProviderID, fresh.Date, fresh.StartTime, fresh.EndTime)
	require.NoError(t, store.SeedSlots(context.Background(), []model.Slot{fresh}))

	svc.now = func() time.Time { return time.Now().Add(20 * time.Minute) }
	freshRes, err := svc.RequestBooking(context.Background(), fresh.ID, uuid.New(), "Fresh Patient")
	require.NoError(t, err)

	swept, err := svc.ExpireReservations(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	for _, slotID := range expiredSlots {
		slot, err := store.GetSlot(context.Background(), slotID)
		require.NoError(t, err)
		assert.Equal(t, model.SlotStatusOpen, slot.Status)
	}

	stillPending, err := store.GetReservation(context.Background(), freshRes.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusPending, stillPending.Status)
}

func TestSlotReleasedBySweepCanBeRebooked(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	_, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "First Patient")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(20 * time.Minute) }
	_, err = svc.ExpireReservations(context.Background(), 100)
	require.NoError(t, err)

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Second Patient")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusPending, res.Status)
}

// Exercises a full booking round trip: reserve under contention, lose a
// racing attempt, confirm on payment success, then reject a late cancel.
func TestBookingLifecycleEndToEnd(t *testing.T) {
	svc, store := newTestService(t)
	slot := seedOpenSlot(t, store, uuid.New())

	res, err := svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Ada Lovelace")
	require.NoError(t, err)

	_, err = svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Grace Hopper")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	confirmed, err := svc.ConfirmBooking(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusConfirmed, confirmed.Status)

	_, err = svc.RequestBooking(context.Background(), slot.ID, uuid.New(), "Grace Hopper")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = svc.CancelBooking(context.Background(), res.ID, "")
	assert.ErrorIs(t, err, repository.ErrStaleReservation)

	final, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, final.Status)
}
