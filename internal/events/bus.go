package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/metrics"
)

// Publisher is the narrow publish capability handed to services
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Bus is an in-process pub/sub. Messages are dropped when nobody subscribes.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewBus creates a bus with a buffered output channel per subscriber
func NewBus(buffer int64) *Bus {
	logger := NewLoggerAdapter(logging.With("events"))
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, logger),
		logger: logger,
	}
}

// Publish marshals payload as JSON and publishes it to topic
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("topic", topic)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// Subscriber exposes the subscribing side for routers and tests
func (b *Bus) Subscriber() message.Subscriber {
	return b.pubsub
}

// Logger returns the watermill logger used by the bus
func (b *Bus) Logger() watermill.LoggerAdapter {
	return b.logger
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// PublishAsync publishes without blocking the caller. Failures are only logged.
func PublishAsync(pub Publisher, topic string, payload any) {
	if pub == nil {
		return
	}
	go func() {
		if err := pub.Publish(context.Background(), topic, payload); err != nil {
			logging.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
		}
	}()
}
