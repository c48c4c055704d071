package broker

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
)

// LocalBackplane hands deliveries to the fanout worker of this process.
// Used when a single instance serves every session.
type LocalBackplane struct {
	log        *slog.Logger
	metrics    *observability.Metrics
	deliveries chan<- event.Delivery
}

func NewLocalBackplane(log *slog.Logger, metrics *observability.Metrics, deliveries chan<- event.Delivery) *LocalBackplane {
	return &LocalBackplane{log: log, metrics: metrics, deliveries: deliveries}
}

func (b *LocalBackplane) Publish(_ context.Context, delivery event.Delivery) error {
	select {
	case b.deliveries <- delivery:
		return nil
	default:
		b.metrics.Push(observability.OutcomeDropped)
		b.log.Warn(fmt.Sprintf("Delivery channel full, dropping %s for %s", delivery.Event.Name, delivery.Channel))
		return errors.ErrSinkFull
	}
}
