// Package memory provides a broker implementation for local development and
// tests. It offers the same contract as the Pub/Sub broker minus durability:
// messages do not survive a process restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/snapshot"
)

// Queue is a bounded in-memory broker with context-aware operations.
type Queue struct {
	ch     chan snapshot.Message
	logger *zap.Logger

	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:     make(chan snapshot.Message, capacity),
		logger: logger,
	}
}

// Publish pushes a message into the queue or returns if the context ends.
func (q *Queue) Publish(ctx context.Context, msg snapshot.Message) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("publish canceled: %w", ctx.Err())
	case q.ch <- msg:
		return nil
	}
}

// Consume delivers messages to the handler until the context finishes.
// Each message is handled on its own goroutine so the caller's concurrency
// policy, not the broker, decides how many run at once; in-flight handlers
// are waited for before Consume returns.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, snapshot.Message) error) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-q.ch:
			if !ok {
				return errors.New("queue closed")
			}
			wg.Add(1)
			go func(m snapshot.Message) {
				defer wg.Done()
				if err := handler(ctx, m); err != nil {
					q.logger.Error("message handling failed",
						zap.String("job_id", m.ID),
						zap.String("url", m.URL),
						zap.Error(err))
				}
			}(msg)
		}
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	close(q.ch)
	q.closed = true
	return nil
}
