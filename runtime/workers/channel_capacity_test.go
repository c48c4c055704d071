package workers

import (
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestChannelCapacityWorker_Samples_Length(t *testing.T) {
	req := require.New(t)
	metrics := observability.NewMetrics()
	deliveries := make(chan event.Delivery, 4)
	deliveries <- event.Delivery{}
	deliveries <- event.Delivery{}
	worker := NewChannelCapacityWorker(logs.GetLoggerFromLevel(slog.LevelDebug), metrics,
		[]NamedChannel{{Name: "deliveries", Channel: deliveries}, {Name: "not a channel", Channel: 42}},
		time.Hour, 1)

	worker.Sample()

	req.Equal(2.0, testutil.ToFloat64(metrics.ChannelLength.WithLabelValues("deliveries")))
	req.Len(deliveries, 2)
}

func TestChannelCapacityWorker_Stops_With_Context(t *testing.T) {
	req := require.New(t)
	metrics := observability.NewMetrics()
	deliveries := make(chan event.Delivery, 4)
	worker := NewChannelCapacityWorker(logs.GetLoggerFromLevel(slog.LevelDebug), metrics,
		[]NamedChannel{{Name: "deliveries", Channel: deliveries}}, time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	deliveries <- event.Delivery{}
	req.Eventually(func() bool {
		return testutil.ToFloat64(metrics.ChannelLength.WithLabelValues("deliveries")) == 1
	}, time.Second, time.Millisecond)
	cancel()

	req.NoError(<-done)
}
