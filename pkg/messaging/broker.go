package messaging

import (
	"context"
)

// Broker carries slot-change messages between the outbox processor and
// schedule subscribers. Subscribe delivers raw payloads until ctx is
// cancelled, then closes the channel.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
