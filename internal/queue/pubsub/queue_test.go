// Package pubsub_test exercises the broker against a fake Pub/Sub server.
package pubsub_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pagelens/pagelens/internal/queue/pubsub"
	"github.com/pagelens/pagelens/internal/snapshot"
)

func newFakeServer(t *testing.T) (*pstest.Server, option.ClientOption, func()) {
	t.Helper()

	srv := pstest.NewServer()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	cleanup := func() {
		_ = conn.Close()
		_ = srv.Close()
	}
	return srv, option.WithGRPCConn(conn), cleanup
}

func createTopicAndSub(t *testing.T, srv *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	// Use a dedicated connection: closing a client created with
	// option.WithGRPCConn also closes the underlying connection, which
	// would break later clients sharing it.
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := gcppubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "topic-id")
	require.NoError(t, err)

	_, err = client.CreateSubscription(ctx, "sub-id", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
}

func TestQueue_PublishAndConsume(t *testing.T) {
	srv, opt, cleanup := newFakeServer(t)
	defer cleanup()
	createTopicAndSub(t, srv)

	ctx := context.Background()
	q, err := pubsub.New(ctx, pubsub.Config{
		ProjectID:      "project-id",
		TopicID:        "topic-id",
		SubscriptionID: "sub-id",
	}, zap.NewNop(), opt)
	require.NoError(t, err)

	msg := snapshot.Message{URL: "https://example.com", ID: "job-1"}
	require.NoError(t, q.Publish(ctx, msg))

	consumeCtx, cancel := context.WithCancel(ctx)
	received := make(chan snapshot.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(consumeCtx, func(_ context.Context, m snapshot.Message) error {
			received <- m
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, msg, got)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, q.Close())
}

func TestQueue_HandlerFailureStillAcks(t *testing.T) {
	srv, opt, cleanup := newFakeServer(t)
	defer cleanup()
	createTopicAndSub(t, srv)

	ctx := context.Background()
	q, err := pubsub.New(ctx, pubsub.Config{
		ProjectID:      "project-id",
		TopicID:        "topic-id",
		SubscriptionID: "sub-id",
	}, zap.NewNop(), opt)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Publish(ctx, snapshot.Message{URL: "https://down.example", ID: "job-fail"}))

	// A logical failure is terminal: the message is acknowledged and must
	// not be redelivered.
	consumeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	deliveries := 0
	_ = q.Consume(consumeCtx, func(context.Context, snapshot.Message) error {
		deliveries++
		return context.DeadlineExceeded
	})
	require.Equal(t, 1, deliveries)
}

func TestQueue_ShutdownErrorNacksForRedelivery(t *testing.T) {
	srv, opt, cleanup := newFakeServer(t)
	defer cleanup()
	createTopicAndSub(t, srv)

	ctx := context.Background()
	q, err := pubsub.New(ctx, pubsub.Config{
		ProjectID:      "project-id",
		TopicID:        "topic-id",
		SubscriptionID: "sub-id",
	}, zap.NewNop(), opt)
	require.NoError(t, err)
	defer q.Close()

	msg := snapshot.Message{URL: "https://example.com", ID: "job-1"}
	require.NoError(t, q.Publish(ctx, msg))

	// The first delivery fails only because the process is shutting down,
	// before any terminal outcome was recorded. The message must survive.
	consumeCtx, cancel := context.WithCancel(ctx)
	err = q.Consume(consumeCtx, func(context.Context, snapshot.Message) error {
		cancel()
		return fmt.Errorf("slot wait canceled: %w", consumeCtx.Err())
	})
	require.NoError(t, err)

	// A fresh consumer sees the redelivered message.
	redeliverCtx, redeliverCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redeliverCancel()
	received := make(chan snapshot.Message, 1)
	_ = q.Consume(redeliverCtx, func(_ context.Context, m snapshot.Message) error {
		select {
		case received <- m:
		default:
		}
		redeliverCancel()
		return nil
	})

	select {
	case got := <-received:
		require.Equal(t, msg, got)
	default:
		t.Fatal("message dropped during shutdown was not redelivered")
	}
}

func TestNew_MissingTopicFails(t *testing.T) {
	_, opt, cleanup := newFakeServer(t)
	defer cleanup()

	_, err := pubsub.New(context.Background(), pubsub.Config{
		ProjectID:      "project-id",
		TopicID:        "absent-topic",
		SubscriptionID: "sub-id",
	}, zap.NewNop(), opt)
	require.Error(t, err)
}
