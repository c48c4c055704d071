package broker

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// wireDelivery keeps the payload as raw JSON so it is relayed byte for byte.
type wireDelivery struct {
	Channel       domain.Channel  `json:"channel"`
	Event         event.Name      `json:"event"`
	Data          json.RawMessage `json:"data"`
	ExceptSession string          `json:"exceptSession,omitempty"`
}

func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// RedisBackplane publishes deliveries on a redis pub/sub channel. Every
// instance, this one included, receives them through its RedisSubscriber.
type RedisBackplane struct {
	log     *slog.Logger
	client  *redis.Client
	channel string
}

func NewRedisBackplane(log *slog.Logger, client *redis.Client, channel string) *RedisBackplane {
	return &RedisBackplane{log: log, client: client, channel: channel}
}

func (b *RedisBackplane) Publish(ctx context.Context, delivery event.Delivery) error {
	data, err := json.Marshal(delivery.Event.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", delivery.Event.Name, err)
	}
	payload, err := json.Marshal(wireDelivery{
		Channel:       delivery.Channel,
		Event:         delivery.Event.Name,
		Data:          data,
		ExceptSession: delivery.ExceptSession,
	})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("Redis publish failed", "event", delivery.Event.Name, "error", err)
		return err
	}
	return nil
}

// RedisSubscriber feeds deliveries received from redis to the local fanout
// worker. It returns an error when the subscription breaks so the supervisor
// restarts it.
type RedisSubscriber struct {
	log        *slog.Logger
	metrics    *observability.Metrics
	client     *redis.Client
	channel    string
	deliveries chan<- event.Delivery
	ready      chan struct{}
}

func NewRedisSubscriber(log *slog.Logger, metrics *observability.Metrics, client *redis.Client,
	channel string, deliveries chan<- event.Delivery) *RedisSubscriber {
	return &RedisSubscriber{
		log:        log,
		metrics:    metrics,
		client:     client,
		channel:    channel,
		deliveries: deliveries,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the first subscription is confirmed.
func (s *RedisSubscriber) Ready() <-chan struct{} {
	return s.ready
}

func (s *RedisSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.log.Info("Subscribed to backplane", "channel", s.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription %s closed", s.channel)
			}
			s.forward(ctx, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) forward(ctx context.Context, payload string) {
	var wire wireDelivery
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		s.log.Warn("Malformed delivery on backplane", "error", err)
		return
	}
	delivery := event.Delivery{
		Channel:       wire.Channel,
		Event:         event.New(wire.Event, wire.Data),
		ExceptSession: wire.ExceptSession,
	}
	select {
	case s.deliveries <- delivery:
	case <-ctx.Done():
	default:
		s.metrics.Push(observability.OutcomeDropped)
		s.log.Warn(fmt.Sprintf("Delivery channel full, dropping %s for %s", wire.Event, wire.Channel))
	}
}
