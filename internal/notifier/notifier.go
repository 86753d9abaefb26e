// Package notifier fans availability changes out to schedule viewers.
// Delivery is best-effort and at-most-once per subscriber: a slow viewer
// loses events rather than blocking the dispatcher, and reconciles with a
// fresh read on reconnect. Within one provider, events arrive in the order
// the availability store committed them, because each provider has a single
// broker channel fed from the outbox in commit order.
package notifier

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/scheduler-api/internal/model"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/messaging"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

const subscriberBuffer = 16

type Notifier struct {
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	providers map[uuid.UUID]*fanout
}

type fanout struct {
	cancel context.CancelFunc
	subs   map[int64]chan model.SlotChange
	nextID int64
}

func New(broker messaging.Broker, logger *logger.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		broker:    broker,
		logger:    logger,
		metrics:   m,
		providers: make(map[uuid.UUID]*fanout),
	}
}

// Publish sends a slot change to the provider's channel. Failures degrade
// freshness, never booking correctness, so the caller decides whether to
// retry.
func (n *Notifier) Publish(ctx context.Context, change model.SlotChange) error {
	return n.broker.Publish(ctx, model.SlotChannel(change.ProviderID), change)
}

// Subscribe registers a viewer for a provider's slot changes. The returned
// function tears the subscription down; the channel is closed afterwards.
func (n *Notifier) Subscribe(providerID uuid.UUID) (<-chan model.SlotChange, func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	f, ok := n.providers[providerID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		msgs, err := n.broker.Subscribe(ctx, model.SlotChannel(providerID))
		if err != nil {
			cancel()
			return nil, nil, err
		}
		f = &fanout{cancel: cancel, subs: make(map[int64]chan model.SlotChange)}
		n.providers[providerID] = f
		go n.dispatch(providerID, f, msgs)
	}

	id := f.nextID
	f.nextID++
	ch := make(chan model.SlotChange, subscriberBuffer)
	f.subs[id] = ch
	n.metrics.NotifierSubscribers.Inc()

	unsubscribe := func() { n.remove(providerID, id) }
	return ch, unsubscribe, nil
}

func (n *Notifier) dispatch(providerID uuid.UUID, f *fanout, msgs <-chan []byte) {
	for payload := range msgs {
		var change model.SlotChange
		if err := json.Unmarshal(payload, &change); err != nil {
			n.logger.Error(err, "dropping malformed slot change", "provider_id", providerID.String())
			continue
		}

		n.mu.Lock()
		for _, sub := range f.subs {
			select {
			case sub <- change:
			default:
				n.metrics.NotifierDroppedEvents.Inc()
			}
		}
		n.mu.Unlock()
	}
}

func (n *Notifier) remove(providerID uuid.UUID, id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	f, ok := n.providers[providerID]
	if !ok {
		return
	}
	sub, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(sub)
	n.metrics.NotifierSubscribers.Dec()

	// Last viewer gone: drop the broker subscription too.
	if len(f.subs) == 0 {
		f.cancel()
		delete(n.providers, providerID)
	}
}

// Close tears down all subscriptions.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for providerID, f := range n.providers {
		for id, sub := range f.subs {
			delete(f.subs, id)
			close(sub)
			n.metrics.NotifierSubscribers.Dec()
		}
		f.cancel()
		delete(n.providers, providerID)
	}
}
