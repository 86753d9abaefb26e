package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/internal/repository/memory"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/messaging"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "worker")

func seedSlots(t *testing.T, store *memory.Store, providerID uuid.UUID, starts ...string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(starts))
	for _, start := range starts {
		minutes, err := model.ClockMinutes(start)
		require.NoError(t, err)
		slot := model.Slot{
			ProviderID: providerID,
			Date:       "2025-03-10",
			StartTime:  start,
			EndTime:    model.MinutesClock(minutes + 30),
		}
		slot.ID = model.SlotID(slot.ProviderID, slot.Date, slot.StartTime, slot.EndTime)
		require.NoError(t, store.SeedSlots(context.Background(), []model.Slot{slot}))
		ids = append(ids, slot.ID)
	}
	return ids
}

func newProcessor(t *testing.T, store *memory.Store, broker messaging.Broker) *OutboxProcessor {
	t.Helper()
	p, err := NewOutboxProcessor(store, broker, OutboxProcessorConfig{
		BatchSize:    100,
		PollInterval: 10 * time.Millisecond,
	}, logger.NewLogger(nil), testMetrics)
	require.NoError(t, err)
	return p
}

func TestProcessPendingPublishesInCommitOrder(t *testing.T) {
	store := memory.NewStore()
	broker := messaging.NewMemoryBroker()
	defer broker.Close()
	providerID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := broker.Subscribe(ctx, model.SlotChannel(providerID))
	require.NoError(t, err)

	ids := seedSlots(t, store, providerID, "09:00", "09:40")
	_, err = store.ClaimSlot(context.Background(), ids[0], 1, uuid.New())
	require.NoError(t, err)

	p := newProcessor(t, store, broker)
	require.NoError(t, p.ProcessPending(context.Background()))

	// Two seeds then one claim, in the order the store committed them.
	want := []struct {
		slotID  uuid.UUID
		status  model.SlotStatus
		version int64
	}{
		{ids[0], model.SlotStatusOpen, 1},
		{ids[1], model.SlotStatusOpen, 1},
		{ids[0], model.SlotStatusReserved, 2},
	}
	for _, expected := range want {
		select {
		case payload := <-msgs:
			var change model.SlotChange
			require.NoError(t, json.Unmarshal(payload, &change))
			assert.Equal(t, expected.slotID, change.SlotID)
			assert.Equal(t, expected.status, change.Status)
			assert.Equal(t, expected.version, change.Version)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for published change")
		}
	}

	pending, err := store.ListPendingEvents(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessPendingIsIdempotentWhenDrained(t *testing.T) {
	store := memory.NewStore()
	broker := messaging.NewMemoryBroker()
	defer broker.Close()

	seedSlots(t, store, uuid.New(), "09:00")

	p := newProcessor(t, store, broker)
	require.NoError(t, p.ProcessPending(context.Background()))
	require.NoError(t, p.ProcessPending(context.Background()))

	pending, err := store.ListPendingEvents(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewOutboxProcessorRejectsBadConfig(t *testing.T) {
	store := memory.NewStore()
	broker := messaging.NewMemoryBroker()
	defer broker.Close()

	_, err := NewOutboxProcessor(store, broker, OutboxProcessorConfig{
		BatchSize:    0,
		PollInterval: time.Second,
	}, logger.NewLogger(nil), testMetrics)
	assert.Error(t, err)

	_, err = NewOutboxProcessor(store, broker, OutboxProcessorConfig{
		BatchSize:    10,
		PollInterval: 0,
	}, logger.NewLogger(nil), testMetrics)
	assert.Error(t, err)
}
