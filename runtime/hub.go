package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/infrastructure/broker"
	"chat-relay/observability"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type HubConfig struct {
	BufferSize      int
	SinkTimeout     time.Duration
	RestartInterval time.Duration

	// MetricInterval, when positive, samples the deliveries channel.
	MetricInterval       time.Duration
	LowCapacityThreshold int

	// Redis, when set, spreads deliveries to every instance subscribed to
	// RedisChannel. Without it deliveries stay in this process.
	Redis        *redis.Client
	RedisChannel string
}

// Hub owns the presence side of the relay: the registry, the backplane and
// the supervised workers feeding sessions.
type Hub struct {
	log        *slog.Logger
	registry   *Registry
	backplane  contract.Backplane
	supervisor *workers.Supervisor
	ready      <-chan struct{}
}

func NewHub(log *slog.Logger, metrics *observability.Metrics, config HubConfig) *Hub {
	registry := NewRegistry(log, metrics)
	deliveries := make(chan event.Delivery, config.BufferSize)
	supervisor := workers.NewSupervisor(log, metrics, config.RestartInterval)
	supervisor.Add(workers.NewEventFanout(log, metrics, registry, deliveries, config.SinkTimeout))
	if config.MetricInterval > 0 {
		supervisor.Add(workers.NewChannelCapacityWorker(log, metrics,
			[]workers.NamedChannel{{Name: "deliveries", Channel: deliveries}},
			config.MetricInterval, config.LowCapacityThreshold))
	}

	hub := &Hub{log: log, registry: registry, supervisor: supervisor}
	if config.Redis != nil {
		subscriber := broker.NewRedisSubscriber(log, metrics, config.Redis, config.RedisChannel, deliveries)
		supervisor.Add(subscriber)
		hub.backplane = broker.NewRedisBackplane(log, config.Redis, config.RedisChannel)
		hub.ready = subscriber.Ready()
	} else {
		hub.backplane = broker.NewLocalBackplane(log, metrics, deliveries)
		ready := make(chan struct{})
		close(ready)
		hub.ready = ready
	}
	return hub
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Backplane() contract.Backplane { return h.backplane }

// Ready is closed once deliveries published anywhere reach this instance.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Start runs the supervised workers and blocks until they all stopped.
func (h *Hub) Start(ctx context.Context) {
	h.log.Info("Starting hub and all supervised workers")
	h.supervisor.Run(ctx)
}

// Stop stops the workers. Live sessions are left to their transport.
func (h *Hub) Stop() {
	h.log.Info("Requesting hub shutdown")
	h.supervisor.Stop()
}
