package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/snapshot"
)

// JobProcessor is the unit of work dispatched for each message.
type JobProcessor interface {
	Process(ctx context.Context, msg snapshot.Message) error
}

// Consumer pulls messages from the broker under a bounded-concurrency
// policy: at most N jobs hold a slot at any instant, and a full slot table
// blocks further dispatch, which is the backpressure mechanism bounding
// in-flight renders.
type Consumer struct {
	broker    snapshot.Broker
	processor JobProcessor
	slots     chan struct{}
	logger    *zap.Logger
}

// NewConsumer constructs a Consumer with the given concurrency bound.
func NewConsumer(broker snapshot.Broker, processor JobProcessor, concurrency int, logger *zap.Logger) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		broker:    broker,
		processor: processor,
		slots:     make(chan struct{}, concurrency),
		logger:    logger,
	}
}

// Run blocks consuming messages until the context finishes. Cancellation is
// clean: no new messages are dispatched and in-flight jobs run to
// completion before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", zap.Int("concurrency", cap(c.slots)))
	if err := c.broker.Consume(ctx, c.handle); err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg snapshot.Message) error {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("slot wait canceled: %w", ctx.Err())
	}
	defer func() { <-c.slots }()

	metrics.JobStarted()
	defer metrics.JobFinished()

	c.logger.Debug("processing message", zap.String("job_id", msg.ID), zap.String("url", msg.URL))

	// A job that holds a slot runs to its terminal outcome even during
	// shutdown; aborting a render mid-flight would record fail for a job
	// that only happened to straddle a restart. The render itself is still
	// bounded by the navigation timeout.
	return c.processor.Process(context.WithoutCancel(ctx), msg)
}
