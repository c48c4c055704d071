package workers

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"
	"sync"
	"time"
)

// SinkQueueSize bounds the pushes waiting for one session.
const SinkQueueSize = 64

// EventFanout delivers each Delivery to the live sessions of its channel.
//
// It provides best-effort fan-out: every sink gets its own queue drained by
// its own goroutine, so a slow, full or closed sink only loses its own pushes
// and never holds back another session. A sink observes pushes in the order
// they were published.
type EventFanout struct {
	log         *slog.Logger
	metrics     *observability.Metrics
	registry    contract.IRegistry
	deliveries  chan event.Delivery
	sinkTimeout time.Duration

	mu     sync.Mutex
	queues map[contract.EventSink]chan event.Outbound
}

func NewEventFanout(log *slog.Logger, metrics *observability.Metrics, registry contract.IRegistry,
	deliveries chan event.Delivery, sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{
		log:         log,
		metrics:     metrics,
		registry:    registry,
		deliveries:  deliveries,
		sinkTimeout: sinkTimeout,
		queues:      make(map[contract.EventSink]chan event.Outbound),
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case delivery := <-w.deliveries:
			w.Fanout(ctx, delivery)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		}
	}
}

// Fanout queues one delivery for every sink of its channel and returns
// without waiting for any of them.
func (w *EventFanout) Fanout(ctx context.Context, delivery event.Delivery) {
	sinks := w.registry.SinksFor(delivery.Channel, delivery.ExceptSession)
	if len(sinks) == 0 {
		w.log.Debug("Nobody observes channel", "channel", delivery.Channel.String(), "event", delivery.Event.Name)
		return
	}
	for _, sink := range sinks {
		w.enqueue(ctx, sink, delivery)
	}
}

func (w *EventFanout) enqueue(ctx context.Context, sink contract.EventSink, delivery event.Delivery) {
	w.mu.Lock()
	defer w.mu.Unlock()
	queue, ok := w.queues[sink]
	if !ok {
		queue = make(chan event.Outbound, SinkQueueSize)
		w.queues[sink] = queue
		go w.drain(ctx, sink, queue)
	}
	select {
	case queue <- delivery.Event:
	default:
		w.metrics.Push(observability.OutcomeDropped)
		w.log.Debug("Sink queue full, push dropped", "channel", delivery.Channel.String(), "event", delivery.Event.Name)
	}
}

// drain pushes queued events to the sink until the queue is empty, then
// forgets the queue. The next enqueue starts a new drain.
func (w *EventFanout) drain(ctx context.Context, sink contract.EventSink, queue chan event.Outbound) {
	for {
		w.mu.Lock()
		select {
		case evt := <-queue:
			w.mu.Unlock()
			w.consume(ctx, sink, evt)
		default:
			delete(w.queues, sink)
			w.mu.Unlock()
			return
		}
	}
}

func (w *EventFanout) consume(ctx context.Context, sink contract.EventSink, evt event.Outbound) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.metrics.Push(observability.OutcomeDropped)
		w.log.Debug("Push dropped", "event", evt.Name, "error", err)
		return
	}
	w.metrics.Push(observability.OutcomeOK)
}
