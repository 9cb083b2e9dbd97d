package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel pairing events are published on.
const DefaultChannel = "broker:pairing-events"

var ErrAlreadySubscribed = errors.New("already subscribed")

// Event is a pairing lifecycle event as it travels over Redis.
type Event struct {
	domain.PairingEvent
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventBus publishes pairing events to Redis so other processes can observe
// the broker. Publishing goes through a circuit breaker so a Redis outage
// costs the connection goroutines one fast failure instead of a timeout.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	breaker    *circuitbreaker.CircuitBreaker
	timeout    time.Duration
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

var _ ports.EventPublisher = (*EventBus)(nil)

func NewEventBus(
	client redis.UniversalClient,
	instanceID string,
	breaker *circuitbreaker.CircuitBreaker,
	logger *zap.SugaredLogger,
) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit breaker changed state", "from", from, "to", to)
	})
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    DefaultChannel,
		breaker:    breaker,
		timeout:    time.Second,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event domain.PairingEvent) error {
	data, err := json.Marshal(Event{
		PairingEvent: event,
		InstanceID:   eb.instanceID,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = eb.breaker.Execute(ctx, func() error {
		pubCtx, cancel := context.WithTimeout(ctx, eb.timeout)
		defer cancel()
		return eb.client.Publish(pubCtx, eb.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"client_id", event.ClientID,
		"peer_id", event.PeerID,
	)
	return nil
}

// Subscribe subscribes to events and calls handler for each event until ctx
// is cancelled. Events published by this instance are included only when
// includeOwn is set.
func (eb *EventBus) Subscribe(ctx context.Context, includeOwn bool, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return ErrAlreadySubscribed
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if !includeOwn && event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
			}
		}
	}
}

func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event without type")
	}
	return &event, nil
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

// NoopPublisher discards events. It is used when Redis is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.PairingEvent) error { return nil }
