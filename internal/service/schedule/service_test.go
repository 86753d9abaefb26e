package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository/memory"
	"github.com/jwalitptl/scheduler-api/internal/slotgen"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, store, 50*time.Millisecond, logger.NewLogger(nil)), store
}

func ingestRequest(providerID uuid.UUID) *model.IngestShiftRequest {
	return &model.IngestShiftRequest{
		ProviderID:                  providerID.String(),
		Date:                        "2025-03-10",
		StartTime:                   "09:00",
		EndTime:                     "12:00",
		ConsultationDurationMinutes: 30,
		WaitingTimeMinutes:          10,
	}
}

func TestIngestShiftMaterializesSlots(t *testing.T) {
	svc, store := newTestService(t)
	providerID := uuid.New()

	shift, generated, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)
	assert.Equal(t, providerID, shift.ProviderID)
	require.Len(t, generated, 4)

	stored, err := store.ListSlots(context.Background(), providerID, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, "09:00", stored[0].StartTime)
	assert.Equal(t, "11:00", stored[3].StartTime)
	for _, slot := range stored {
		assert.Equal(t, model.SlotStatusOpen, slot.Status)
	}
}

func TestIngestShiftRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	req := ingestRequest(uuid.New())
	req.EndTime = "08:00"

	_, _, err := svc.IngestShift(context.Background(), req)
	assert.ErrorIs(t, err, slotgen.ErrInvalidShift)
}

func TestReingestIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	providerID := uuid.New()

	_, first, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)
	_, second, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))

	stored, err := store.ListSlots(context.Background(), providerID, "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, stored, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestReingestPrunesVanishedOpenSlotsOnly(t *testing.T) {
	svc, store := newTestService(t)
	providerID := uuid.New()

	_, generated, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)

	// Reserve the 09:40 slot, then shrink the shift so only 09:00-09:30 survives.
	reservedID := generated[1].ID
	_, err = store.ClaimSlot(context.Background(), reservedID, 1, uuid.New())
	require.NoError(t, err)

	shrunk := ingestRequest(providerID)
	shrunk.EndTime = "09:30"
	_, _, err = svc.IngestShift(context.Background(), shrunk)
	require.NoError(t, err)

	stored, err := store.ListSlots(context.Background(), providerID, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "09:00", stored[0].StartTime)
	assert.Equal(t, model.SlotStatusOpen, stored[0].Status)
	assert.Equal(t, reservedID, stored[1].ID)
	assert.Equal(t, model.SlotStatusReserved, stored[1].Status)
}

func TestViewScheduleReturnsOrderedSlots(t *testing.T) {
	svc, _ := newTestService(t)
	providerID := uuid.New()

	_, _, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)

	slots, err := svc.ViewSchedule(context.Background(), providerID, "2025-03-10", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, slots, 4)
	for i := 1; i < len(slots); i++ {
		assert.Less(t, slots[i-1].StartTime, slots[i].StartTime)
	}
}

func TestViewScheduleEmptyWithoutShift(t *testing.T) {
	svc, _ := newTestService(t)

	slots, err := svc.ViewSchedule(context.Background(), uuid.New(), "2025-03-10", "2025-03-10")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestViewScheduleRejectsBadDate(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ViewSchedule(context.Background(), uuid.New(), "10-03-2025", "10-03-2025")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestViewScheduleSeedsLazilyFromStoredShift(t *testing.T) {
	svc, store := newTestService(t)
	providerID := uuid.New()

	// A definition authored out of band, with no slots materialized yet.
	require.NoError(t, store.UpsertShift(context.Background(), &model.ShiftDefinition{
		ProviderID:                  providerID,
		Date:                        "2025-03-11",
		StartTime:                   "10:00",
		EndTime:                     "11:00",
		ConsultationDurationMinutes: 30,
		WaitingTimeMinutes:          0,
	}))

	slots, err := svc.ViewSchedule(context.Background(), providerID, "2025-03-11", "2025-03-11")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "10:00", slots[0].StartTime)
	assert.Equal(t, "10:30", slots[1].StartTime)
}

func TestViewScheduleSpansDates(t *testing.T) {
	svc, _ := newTestService(t)
	providerID := uuid.New()

	_, _, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)
	second := ingestRequest(providerID)
	second.Date = "2025-03-11"
	second.EndTime = "10:00"
	_, _, err = svc.IngestShift(context.Background(), second)
	require.NoError(t, err)

	slots, err := svc.ViewSchedule(context.Background(), providerID, "2025-03-10", "2025-03-11")
	require.NoError(t, err)
	require.Len(t, slots, 5)
	assert.Equal(t, "2025-03-10", slots[0].Date)
	assert.Equal(t, "2025-03-11", slots[4].Date)
}

func TestViewScheduleRangeCap(t *testing.T) {
	svc, _ := newTestService(t)
	providerID := uuid.New()

	// 2025-03-01 through 2025-03-31 is 31 days inclusive, the widest allowed.
	_, err := svc.ViewSchedule(context.Background(), providerID, "2025-03-01", "2025-03-31")
	require.NoError(t, err)

	// One more day tips the range over the cap.
	_, err = svc.ViewSchedule(context.Background(), providerID, "2025-03-01", "2025-04-01")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestViewScheduleRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ViewSchedule(context.Background(), uuid.New(), "2025-03-11", "2025-03-10")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestIngestInvalidatesCachedView(t *testing.T) {
	svc, _ := newTestService(t)
	providerID := uuid.New()

	_, _, err := svc.IngestShift(context.Background(), ingestRequest(providerID))
	require.NoError(t, err)
	cached, err := svc.ViewSchedule(context.Background(), providerID, "2025-03-10", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, cached, 4)

	shrunk := ingestRequest(providerID)
	shrunk.EndTime = "10:30"
	_, _, err = svc.IngestShift(context.Background(), shrunk)
	require.NoError(t, err)

	refreshed, err := svc.ViewSchedule(context.Background(), providerID, "2025-03-10", "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, refreshed, 2)
}
