package broker

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLocalBackplane_Publish(t *testing.T) {
	req := require.New(t)
	metrics := observability.NewMetrics()
	deliveries := make(chan event.Delivery, 1)
	backplane := NewLocalBackplane(slog.Default(), metrics, deliveries)
	delivery := event.To(1, event.New(event.NewMessage, "hi"))

	// Given an empty channel, the delivery is queued
	req.NoError(backplane.Publish(context.Background(), delivery))
	req.Equal(delivery, <-deliveries)

	// Given a full channel, the delivery is dropped without blocking
	deliveries <- delivery
	err := backplane.Publish(context.Background(), delivery)
	req.ErrorIs(err, errors.ErrSinkFull)
	req.Equal(1.0, testutil.ToFloat64(metrics.Pushes.WithLabelValues(observability.OutcomeDropped)))
}

func TestRedisBackplane_Relays_Deliveries(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	server := miniredis.RunT(t)
	client := NewRedisClient(server.Addr(), "")
	defer client.Close()

	deliveries := make(chan event.Delivery, 4)
	subscriber := NewRedisSubscriber(log, observability.NewMetrics(), client, "chat:test", deliveries)
	backplane := NewRedisBackplane(log, client, "chat:test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() { done <- subscriber.Run(ctx) }()

	select {
	case <-subscriber.Ready():
	case <-time.After(2 * time.Second):
		req.Fail("subscriber not ready")
	}

	// When a delivery is published
	delivery := event.To(7, event.New(event.NewMessage, map[string]any{"content": "hi", "group": true}))
	delivery.ExceptSession = "session-1"
	req.NoError(backplane.Publish(ctx, delivery))

	// Then the subscriber hands it to the local fanout, payload untouched
	select {
	case got := <-deliveries:
		req.Equal(delivery.Channel, got.Channel)
		req.Equal(event.NewMessage, got.Event.Name)
		req.Equal("session-1", got.ExceptSession)
		raw, ok := got.Event.Payload.(json.RawMessage)
		req.True(ok)
		req.JSONEq(`{"content":"hi","group":true}`, string(raw))

		// And it serializes like the published event
		published, err := json.Marshal(delivery.Event)
		req.NoError(err)
		relayed, err := json.Marshal(got.Event)
		req.NoError(err)
		req.JSONEq(string(published), string(relayed))
	case <-time.After(2 * time.Second):
		req.Fail("delivery not relayed")
	}

	// And the subscriber stops cleanly
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("subscriber did not stop")
	}
}

func TestRedisSubscriber_Ignores_Malformed_Payload(t *testing.T) {
	deliveries := make(chan event.Delivery, 1)
	subscriber := NewRedisSubscriber(slog.Default(), observability.NewMetrics(), nil, "chat:test", deliveries)

	subscriber.forward(context.Background(), "{not json")

	require.Empty(t, deliveries)
}
