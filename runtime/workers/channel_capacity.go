package workers

import (
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

type NamedChannel struct {
	Name    string
	Channel any
}

// ChannelCapacityWorker periodically samples the length of internal channels.
// Reading len and cap of a channel never blocks, so sampling does not
// interfere with the goroutines using it.
type ChannelCapacityWorker struct {
	log                  *slog.Logger
	metrics              *observability.Metrics
	channels             []NamedChannel
	metricInterval       time.Duration
	lowCapacityThreshold int
}

func NewChannelCapacityWorker(log *slog.Logger, metrics *observability.Metrics,
	channels []NamedChannel, metricInterval time.Duration, lowCapacityThreshold int) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:                  log,
		metrics:              metrics,
		channels:             channels,
		metricInterval:       metricInterval,
		lowCapacityThreshold: lowCapacityThreshold,
	}
}

func (w *ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample records the current length of every channel once.
func (w *ChannelCapacityWorker) Sample() {
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		capacity, length := v.Cap(), v.Len()
		w.metrics.ChannelLength.WithLabelValues(nc.Name).Set(float64(length))
		if capacity <= 0 {
			// Unbuffered
			continue
		}
		capacityLeft := capacity - length
		if capacityLeft <= w.lowCapacityThreshold {
			w.log.Warn(fmt.Sprintf("Channel %s capacity left : %d / %d", nc.Name, capacityLeft, capacity))
		}
	}
}
