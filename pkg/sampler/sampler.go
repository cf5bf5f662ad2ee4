// Package sampler captures messages from the destination MQTT topic. It is
// used to check what the bridge actually delivered.
package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/rs/zerolog"
)

// CapturedMessage is one message received on the destination topic.
type CapturedMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Raw       []byte          `json:"-"`
}

// Sampler subscribes to cfg.Topic and keeps the first numMessages messages.
type Sampler struct {
	cfg         config.Config
	logger      zerolog.Logger
	numMessages int

	mu       sync.Mutex
	messages []CapturedMessage
	full     chan struct{}
	ready    chan struct{}
	readyOne sync.Once
}

// New creates a Sampler for the destination described by cfg. numMessages
// must be at least 1.
func New(cfg config.Config, logger zerolog.Logger, numMessages int) (*Sampler, error) {
	if numMessages < 1 {
		return nil, fmt.Errorf("number of messages to capture must be at least 1, got %d", numMessages)
	}
	return &Sampler{
		cfg:         cfg,
		logger:      logger.With().Str("component", "Sampler").Str("topic", cfg.Topic).Logger(),
		numMessages: numMessages,
		messages:    make([]CapturedMessage, 0, numMessages),
		full:        make(chan struct{}),
		ready:       make(chan struct{}),
	}, nil
}

// Ready is closed once the subscription is in place.
func (s *Sampler) Ready() <-chan struct{} {
	return s.ready
}

// Run connects, subscribes and blocks until numMessages have been captured or
// ctx ends.
func (s *Sampler) Run(ctx context.Context) error {
	client, err := s.connect()
	if err != nil {
		return err
	}
	defer func() {
		client.Disconnect(500)
		s.logger.Info().Msg("MQTT client disconnected.")
	}()

	select {
	case <-s.full:
		s.logger.Info().Msg("Target message count reached.")
	case <-ctx.Done():
		s.logger.Info().Msg("Sampling stopped by context.")
	}
	return nil
}

// Messages returns a copy of the captured messages.
func (s *Sampler) Messages() []CapturedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Sampler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) >= s.numMessages {
		return
	}

	raw := append([]byte(nil), msg.Payload()...)
	var pretty bytes.Buffer
	var payload json.RawMessage
	if err := json.Indent(&pretty, raw, "", "  "); err == nil {
		payload = pretty.Bytes()
	} else {
		payload, _ = json.Marshal(string(raw))
	}

	s.messages = append(s.messages, CapturedMessage{
		Timestamp: time.Now().UTC(),
		Topic:     msg.Topic(),
		Payload:   payload,
		Raw:       raw,
	})
	s.logger.Info().Int("captured_count", len(s.messages)).Int("target_count", s.numMessages).Msg("Message captured")

	if len(s.messages) == s.numMessages {
		close(s.full)
	}
}

func (s *Sampler) connect() (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Host).
		SetClientID(fmt.Sprintf("%s-%ssampler-%s", s.cfg.Namespace, s.cfg.ClientIDPrefix, uuid.New().String())).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetKeepAlive(s.cfg.KeepAlive()).
		SetConnectTimeout(s.cfg.ConnectTimeout()).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false)

	switch s.cfg.Scheme() {
	case "ssl", "tls", "mqtts", "wss":
		tlsConfig, err := broker.NewTLSConfig(s.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	case "kafka", "kafkas":
		return nil, errors.New("sampler only supports MQTT destinations")
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, 1, s.messageHandler)
		if token.Wait() && token.Error() != nil {
			s.logger.Error().Err(token.Error()).Msg("Failed to subscribe to topic")
			return
		}
		s.logger.Info().Msg("Subscribed to destination topic.")
		s.readyOne.Do(func() { close(s.ready) })
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost. Reconnecting...")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout()) {
		return nil, fmt.Errorf("timed out connecting to %s", s.cfg.Host)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.cfg.Host, err)
	}
	return client, nil
}

// WriteFile saves messages to filename as an indented JSON array.
func WriteFile(filename string, messages []CapturedMessage) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(messages); err != nil {
		return fmt.Errorf("could not encode messages to JSON: %w", err)
	}
	return nil
}
