package forwarder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// SessionProvider hands out the live broker session and takes back reports of
// sessions that failed in use. *broker.ConnectionManager implements it.
type SessionProvider interface {
	EnsureConnected(ctx context.Context) (broker.Session, error)
	ReportFailure(s broker.Session, err error)
}

// Recorder receives the outcome of every Forward call.
type Recorder interface {
	Forwarded(topic string, size int, elapsed time.Duration, err error)
}

// PublishError means a live session rejected or failed to transmit a message.
// The caller decides whether the inbound message is redelivered.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to topic %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithRecorder reports every forward to r.
func WithRecorder(r Recorder) Option {
	return func(f *Forwarder) {
		f.recorder = r
	}
}

// Forwarder publishes each inbound payload, unmodified, to one fixed topic.
type Forwarder struct {
	conn     SessionProvider
	topic    string
	mode     types.DeliveryMode
	logger   zerolog.Logger
	recorder Recorder
}

// New creates a Forwarder for topic using the given delivery mode.
func New(conn SessionProvider, topic string, mode types.DeliveryMode, logger zerolog.Logger, opts ...Option) (*Forwarder, error) {
	if conn == nil {
		return nil, errors.New("session provider cannot be nil")
	}
	if topic == "" {
		return nil, errors.New("destination topic cannot be empty")
	}
	f := &Forwarder{
		conn:   conn,
		topic:  topic,
		mode:   mode,
		logger: logger.With().Str("component", "Forwarder").Str("topic", topic).Str("delivery_mode", mode.String()).Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Forward publishes payload to the configured topic. Connection failures are
// returned as they come from the session provider (a *broker.ConnectionError
// once retries run out); a failed publish is returned as a *PublishError.
// Nothing is retried here: redelivery belongs to the caller's queue.
func (f *Forwarder) Forward(ctx context.Context, payload []byte) (err error) {
	start := time.Now()
	defer func() {
		if f.recorder != nil {
			f.recorder.Forwarded(f.topic, len(payload), time.Since(start), err)
		}
	}()

	session, err := f.conn.EnsureConnected(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("No broker connection, message not forwarded")
		return err
	}

	// The session may hold on to the body after Publish returns, so it gets its
	// own copy; the caller's buffer stays the caller's.
	body := make([]byte, len(payload))
	copy(body, payload)
	msg := types.OutboundMessage{Topic: f.topic, Payload: body, Mode: f.mode}

	if err := session.Publish(ctx, msg); err != nil {
		if errors.Is(err, broker.ErrNotConnected) {
			f.conn.ReportFailure(session, err)
		}
		f.logger.Error().Err(err).Int("size", len(payload)).Msg("Failed to publish message")
		return &PublishError{Topic: f.topic, Err: err}
	}

	f.logger.Debug().Int("size", len(payload)).Dur("elapsed", time.Since(start)).Msg("Message forwarded")
	return nil
}

// Topic returns the fixed destination topic.
func (f *Forwarder) Topic() string {
	return f.topic
}
