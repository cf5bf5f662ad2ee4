package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// --- MQTT Dialer ---

// MQTTDialer connects to an MQTT broker with the Paho client. Paho's own
// auto-reconnect and connect-retry are switched off; the ConnectionManager
// decides when to dial again.
type MQTTDialer struct {
	cfg       config.Config
	tlsConfig *tls.Config
	logger    zerolog.Logger
}

// NewMQTTDialer validates the TLS material up front so that a bad certificate
// path is reported at startup.
func NewMQTTDialer(cfg config.Config, logger zerolog.Logger) (*MQTTDialer, error) {
	logger = logger.With().Str("component", "MQTTDialer").Str("broker", cfg.Host).Str("namespace", cfg.Namespace).Logger()

	d := &MQTTDialer{cfg: cfg, logger: logger}
	if usesTLS(cfg.Scheme()) {
		tlsConfig, err := NewTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		d.tlsConfig = tlsConfig
		logger.Info().Bool("validate_certificate", cfg.ValidateCertificate).Msg("TLS configured for MQTT client.")
	}
	if cfg.CompressionLevel > 0 {
		logger.Warn().
			Int("compression_level", cfg.CompressionLevel).
			Msg("MQTT has no transport compression; payloads are sent uncompressed.")
	}
	return d, nil
}

func usesTLS(scheme string) bool {
	switch scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}

// clientOptions builds the Paho options for one connection attempt.
func (d *MQTTDialer) clientOptions(onLost func(error)) *mqtt.ClientOptions {
	clientID := fmt.Sprintf("%s-%s%s", d.cfg.Namespace, d.cfg.ClientIDPrefix, uuid.New().String())

	opts := mqtt.NewClientOptions().
		AddBroker(d.cfg.Host).
		SetClientID(clientID).
		SetUsername(d.cfg.Username).
		SetPassword(d.cfg.Password).
		SetKeepAlive(d.cfg.KeepAlive()).
		SetConnectTimeout(d.cfg.ConnectTimeout()).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false)

	if d.tlsConfig != nil {
		opts.SetTLSConfig(d.tlsConfig)
	}

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		d.logger.Debug().Str("client_id", clientID).Str("url", broker.String()).Msg("Attempting to connect to MQTT broker")
		return tlsCfg
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		d.logger.Info().Str("client_id", clientID).Msg("Paho client connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		d.logger.Error().Err(err).Str("client_id", clientID).Msg("Paho client lost MQTT connection.")
		if onLost != nil {
			onLost(err)
		}
	})
	return opts
}

// Dial creates a fresh Paho client and connects it.
func (d *MQTTDialer) Dial(ctx context.Context, onLost func(error)) (Session, error) {
	opts := d.clientOptions(onLost)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("paho MQTT client connect error: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, fmt.Errorf("paho MQTT client connect abandoned: %w", ctx.Err())
	}

	return &mqttSession{
		client: client,
		logger: d.logger.With().Str("client_id", opts.ClientID).Logger(),
	}, nil
}

// --- MQTT Session ---

type mqttSession struct {
	client mqtt.Client
	logger zerolog.Logger
}

func qosFor(mode types.DeliveryMode) byte {
	if mode == types.Persistent {
		return 1
	}
	return 0
}

// Publish sends the payload unmodified. Direct maps to QoS 0 and Persistent to
// QoS 1, whose token completes on the broker's PUBACK.
func (s *mqttSession) Publish(ctx context.Context, msg types.OutboundMessage) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := s.client.Publish(msg.Topic, qosFor(msg.Mode), false, msg.Payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			if errors.Is(err, mqtt.ErrNotConnected) {
				return fmt.Errorf("%w: %v", ErrNotConnected, err)
			}
			return fmt.Errorf("mqtt publish to %s: %w", msg.Topic, err)
		}
		s.logger.Debug().Str("topic", msg.Topic).Int("size", len(msg.Payload)).Msg("Message published")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while publishing to %s: %w", msg.Topic, ctx.Err())
	}
}

func (s *mqttSession) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
		s.logger.Info().Msg("Paho MQTT client disconnected.")
	}
}
