package loadgen

import (
	"context"
)

// PayloadGenerator creates the payload for the next message from a source.
type PayloadGenerator interface {
	GeneratePayload(source *Source) ([]byte, error)
}

// Client publishes generated messages to the bridge's inbound queue.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	// Publish generates the source's next payload and sends it.
	Publish(ctx context.Context, source *Source) error
}
