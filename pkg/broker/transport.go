package broker

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// Session is one live connection to the destination broker. Implementations
// must allow concurrent Publish calls.
type Session interface {
	// Publish sends msg and returns once the transport has accepted it (Direct)
	// or the broker has acknowledged it (Persistent). A lost transport yields
	// an error wrapping ErrNotConnected.
	Publish(ctx context.Context, msg types.OutboundMessage) error
	// Close releases the session. It is safe to call more than once.
	Close()
}

// Dialer makes a single connection attempt. Retrying is the ConnectionManager's job.
type Dialer interface {
	// Dial blocks until the broker handshake completes or ctx is done.
	// onLost must be called at most once, when the returned session's
	// transport fails after a successful Dial.
	Dial(ctx context.Context, onLost func(error)) (Session, error)
}

// NewDialer picks the transport for cfg.Host: kafka:// and kafkas:// go to
// Kafka, every other supported scheme is MQTT.
func NewDialer(cfg config.Config, logger zerolog.Logger) (Dialer, error) {
	switch cfg.Scheme() {
	case "kafka", "kafkas":
		return NewKafkaDialer(cfg, logger)
	case "":
		return nil, fmt.Errorf("no scheme in destination host %q", cfg.Host)
	default:
		return NewMQTTDialer(cfg, logger)
	}
}
