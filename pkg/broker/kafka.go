package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// KafkaDialer connects to a Kafka cluster for kafka:// and kafkas:// hosts.
// Kafka has no session-loss callback, so a failed write is the only transport
// failure signal; it is returned wrapping ErrNotConnected.
type KafkaDialer struct {
	cfg       config.Config
	addr      string
	tlsConfig *tls.Config
	mechanism sasl.Mechanism
	logger    zerolog.Logger
}

// NewKafkaDialer prepares TLS and SASL/PLAIN credentials from cfg.
func NewKafkaDialer(cfg config.Config, logger zerolog.Logger) (*KafkaDialer, error) {
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse kafka host %q: %w", cfg.Host, err)
	}

	d := &KafkaDialer{
		cfg:    cfg,
		addr:   u.Host,
		logger: logger.With().Str("component", "KafkaDialer").Str("broker", u.Host).Str("namespace", cfg.Namespace).Logger(),
	}
	if cfg.Scheme() == "kafkas" {
		tlsConfig, err := NewTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		d.tlsConfig = tlsConfig
	}
	if cfg.Username != "" {
		d.mechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	return d, nil
}

// Dial opens a connection to verify the handshake and the credentials, then
// hands back a session whose writers manage their own connection pool.
func (d *KafkaDialer) Dial(ctx context.Context, _ func(error)) (Session, error) {
	clientID := fmt.Sprintf("%s-%s%s", d.cfg.Namespace, d.cfg.ClientIDPrefix, uuid.New().String())

	dialer := &kafka.Dialer{
		Timeout:       d.cfg.ConnectTimeout(),
		ClientID:      clientID,
		TLS:           d.tlsConfig,
		SASLMechanism: d.mechanism,
	}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("kafka dial %s: %w", d.addr, err)
	}
	defer conn.Close()

	// kafka.Conn requests ignore ctx, so the attempt's deadline goes on the
	// connection itself and cancellation closes it.
	deadline, ok := ctx.Deadline()
	if !ok && d.cfg.ConnectTimeout() > 0 {
		deadline, ok = time.Now().Add(d.cfg.ConnectTimeout()), true
	}
	if ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("kafka set deadline on %s: %w", d.addr, err)
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Controller(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("kafka controller lookup on %s abandoned: %w", d.addr, ctxErr)
		}
		return nil, fmt.Errorf("kafka controller lookup on %s: %w", d.addr, err)
	}

	d.logger.Info().Str("client_id", clientID).Msg("Connected to Kafka broker")
	return &kafkaSession{
		writers: d.newWriters(clientID),
		logger:  d.logger.With().Str("client_id", clientID).Logger(),
	}, nil
}

// newWriters builds one writer per delivery mode over a shared transport.
func (d *KafkaDialer) newWriters(clientID string) map[types.DeliveryMode]messageWriter {
	transport := &kafka.Transport{
		ClientID:    clientID,
		DialTimeout: d.cfg.ConnectTimeout(),
		TLS:         d.tlsConfig,
		SASL:        d.mechanism,
	}
	var compression kafka.Compression
	if d.cfg.CompressionLevel > 0 {
		compression = kafka.Gzip
	}

	newWriter := func(acks kafka.RequiredAcks) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(d.addr),
			RequiredAcks: acks,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			Compression:  compression,
			Transport:    transport,
		}
	}
	return map[types.DeliveryMode]messageWriter{
		types.Direct:     newWriter(kafka.RequireNone),
		types.Persistent: newWriter(kafka.RequireAll),
	}
}

// messageWriter is the part of *kafka.Writer a session uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaSession struct {
	writers map[types.DeliveryMode]messageWriter
	logger  zerolog.Logger
}

func (s *kafkaSession) Publish(ctx context.Context, msg types.OutboundMessage) error {
	w, ok := s.writers[msg.Mode]
	if !ok {
		return fmt.Errorf("unsupported delivery mode %s", msg.Mode)
	}
	err := w.WriteMessages(ctx, kafka.Message{Topic: msg.Topic, Value: msg.Payload})
	if err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return fmt.Errorf("kafka write to %s: %w", msg.Topic, err)
	}
	s.logger.Debug().Str("topic", msg.Topic).Int("size", len(msg.Payload)).Msg("Message published")
	return nil
}

func (s *kafkaSession) Close() {
	for mode, w := range s.writers {
		if err := w.Close(); err != nil {
			s.logger.Warn().Err(err).Stringer("mode", mode).Msg("Error closing Kafka writer")
		}
	}
}

// isConnectionError reports whether err came from the network rather than
// from the broker rejecting the message.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
