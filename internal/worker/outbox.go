// Package worker holds the background loops: the outbox processor that
// relays committed slot changes to the broker, and the expiry sweeper that
// returns timed-out reservations to open.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/scheduler-api/internal/repository"
	"github.com/jwalitptl/scheduler-api/pkg/logger"
	"github.com/jwalitptl/scheduler-api/pkg/messaging"
	"github.com/jwalitptl/scheduler-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// OutboxProcessor drains pending slot-change events and publishes them to
// the broker in commit (seq) order. One publisher per deployment keeps the
// per-provider ordering that subscribers rely on.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	m *metrics.Metrics,
) (*OutboxProcessor, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("outbox batch size must be positive")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("outbox poll interval must be positive")
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Start runs the poll loop until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("starting outbox processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessPending(ctx); err != nil {
				p.logger.Error(err, "outbox pass failed")
			}
		}
	}
}

// ProcessPending publishes one batch of pending events. Events are walked in
// seq order; a publish that still fails after retries is marked failed and
// skipped, which costs that viewer refresh freshness but never ordering of
// what does get delivered.
func (p *OutboxProcessor) ProcessPending(ctx context.Context) error {
	timer := time.Now()
	defer func() {
		p.metrics.OutboxPublishLatency.Observe(time.Since(timer).Seconds())
	}()

	events, err := p.repo.ListPendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending events: %w", err)
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := retry(p.config.RetryAttempts, p.config.RetryDelay, func() error {
			return p.broker.Publish(ctx, event.Channel, event.Payload)
		})
		if err != nil {
			p.metrics.OutboxEventsFailed.Inc()
			p.logger.Error(err, "failed to publish slot change",
				"seq", event.Seq, "channel", event.Channel)
			if markErr := p.repo.MarkEventFailed(ctx, event.Seq, err.Error()); markErr != nil {
				p.logger.Error(markErr, "failed to mark event failed", "seq", event.Seq)
			}
			continue
		}

		p.metrics.OutboxEventsPublished.Inc()
		if err := p.repo.MarkEventProcessed(ctx, event.Seq); err != nil {
			p.logger.Error(err, "failed to mark event processed", "seq", event.Seq)
			return err
		}
	}
	return nil
}

func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
