package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Broker bridges the local Bus to a Redis pub/sub channel so separate
// processes converge on the same access state. Locally published events are
// relayed to Redis; remote events are injected into the local bus. The
// Origin tag prevents a relayed event from bouncing back.
type Broker struct {
	bus     *Bus
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger

	outbox chan Event
}

// NewBroker constructs a Broker over the given Redis client and channel.
func NewBroker(bus *Bus, client *redis.Client, channel string, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		bus:     bus,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
		outbox:  make(chan Event, 64),
	}
}

// Run relays events in both directions until the context is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	if b.bus == nil || b.client == nil {
		return fmt.Errorf("events: broker not configured")
	}

	cancel := b.bus.Subscribe(Filter{}, func(e Event) {
		if e.Origin != "" {
			// Already travelled through Redis once.
			return
		}
		e.Origin = b.origin
		select {
		case b.outbox <- e:
		default:
			b.logger.Warn("event outbox full, dropping relay", slog.String("type", string(e.Type)))
		}
	})
	defer cancel()

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		_ = pubsub.Close()
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", b.channel, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case e := <-b.outbox:
				payload, err := json.Marshal(e)
				if err != nil {
					b.logger.Error("marshal event", slog.Any("error", err))
					continue
				}
				if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
					b.logger.Warn("publish event to redis", slog.Any("error", err))
				}
			}
		}
	})

	g.Go(func() error {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					return ctx.Err()
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.logger.Warn("decode relayed event", slog.Any("error", err))
					continue
				}
				if e.Origin == b.origin {
					continue
				}
				b.bus.Publish(e)
			}
		}
	})

	return g.Wait()
}
