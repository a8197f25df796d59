// Package pubsub implements the broker contract on Google Cloud Pub/Sub:
// durable messages, at-least-once delivery, transparent reconnects.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pagelens/pagelens/internal/snapshot"
)

// Config identifies the topic and subscription used for capture jobs.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// Queue is a Pub/Sub-backed broker. Authentication uses Google Cloud's
// Application Default Credentials unless client options override it.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger
}

// New creates a Pub/Sub client and verifies the topic and subscription
// exist, failing fast on startup misconfiguration.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		closeClient(client, logger)
		if err != nil {
			return nil, fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil || !ok {
		closeClient(client, logger)
		if err != nil {
			return nil, fmt.Errorf("check subscription %q: %w", cfg.SubscriptionID, err)
		}
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.SubscriptionID, cfg.ProjectID)
	}

	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
	}, nil
}

// Publish sends the job envelope as a persistent message and waits for the
// broker to confirm it, so a publish failure can be surfaced per URL.
func (q *Queue) Publish(ctx context.Context, msg snapshot.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message for job %s: %w", msg.ID, err)
	}
	return nil
}

// Consume receives messages until the context finishes. A message is
// acknowledged after the handler returns, success or not: logical failures
// are terminal and must not be redelivered. The exception is a handler
// error caused by shutdown, before any terminal outcome was recorded; that
// message is nacked so the broker redelivers it to the next process. The
// client library reconnects transparently on connection loss.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, snapshot.Message) error) error {
	err := q.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var msg snapshot.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			q.logger.Error("discarding malformed message", zap.Error(err))
			m.Ack()
			return
		}
		if err := handler(ctx, msg); err != nil {
			if ctx.Err() != nil {
				q.logger.Warn("returning message for redelivery after shutdown",
					zap.String("job_id", msg.ID),
					zap.String("url", msg.URL))
				m.Nack()
				return
			}
			q.logger.Error("message handling failed",
				zap.String("job_id", msg.ID),
				zap.String("url", msg.URL),
				zap.Error(err))
		}
		m.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// Close stops the topic's publisher and closes the client connection.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("failed to close pubsub client after startup failure", zap.Error(err))
	}
}
