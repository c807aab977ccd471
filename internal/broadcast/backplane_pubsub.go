package broadcast

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/carline-backend/pkg/events"
)

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

type subscriptionReceiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// PubSubBackplane relays events through a GCP Pub/Sub topic. Each API
// instance owns its own subscription so every instance sees every event.
type PubSubBackplane struct {
	publisher  topicPublisher
	subscriber subscriptionReceiver
}

// NewPubSubBackplane wires the topic publisher and this instance's subscriber.
func NewPubSubBackplane(publisher *pubsub.Publisher, subscriber *pubsub.Subscriber) (*PubSubBackplane, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher required")
	}
	if subscriber == nil {
		return nil, fmt.Errorf("pubsub subscriber required")
	}
	return &PubSubBackplane{publisher: publisher, subscriber: subscriber}, nil
}

func (b *PubSubBackplane) Publish(ctx context.Context, payload []byte) error {
	res := b.publisher.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"type": events.TypeCarStatusUpdate},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish car status update: %w", err)
	}
	return nil
}

func (b *PubSubBackplane) Subscribe(ctx context.Context, handle func([]byte)) error {
	return b.subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		handle(msg.Data)
		msg.Ack()
	})
}

// Close flushes and stops the publisher.
func (b *PubSubBackplane) Close() error {
	b.publisher.Stop()
	return nil
}
