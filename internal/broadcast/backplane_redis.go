package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/carline-backend/pkg/redis"
)

var errStreamClosed = errors.New("redis subscription closed")

// RedisBackplane relays events over redis PUBLISH/SUBSCRIBE.
type RedisBackplane struct {
	bus     redis.Bus
	channel string
}

// NewRedisBackplane binds the backplane to the namespaced channel.
func NewRedisBackplane(bus redis.Bus, channel string) (*RedisBackplane, error) {
	if bus == nil {
		return nil, fmt.Errorf("redis bus required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("channel name required")
	}
	return &RedisBackplane{bus: bus, channel: bus.ChannelKey(channel)}, nil
}

// Channel returns the fully qualified redis channel.
func (b *RedisBackplane) Channel() string {
	return b.channel
}

func (b *RedisBackplane) Publish(ctx context.Context, payload []byte) error {
	return b.bus.Publish(ctx, b.channel, payload)
}

func (b *RedisBackplane) Subscribe(ctx context.Context, handle func([]byte)) error {
	stream, err := b.bus.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	defer stream.Close()

	messages := stream.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errStreamClosed
			}
			if msg == nil {
				continue
			}
			handle([]byte(msg.Payload))
		}
	}
}

// Close is a no-op; the redis client is owned by the caller.
func (b *RedisBackplane) Close() error {
	return nil
}
