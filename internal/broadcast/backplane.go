package broadcast

import "context"

// Backplane relays encoded envelopes between API instances. Everything
// published is delivered back to every subscriber, the publishing instance
// included.
type Backplane interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe blocks, calling handle for every relayed payload, until ctx
	// is done or the subscription fails.
	Subscribe(ctx context.Context, handle func(payload []byte)) error
	Close() error
}
