package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// MessageConsumer is a source of inbound queue messages.
type MessageConsumer interface {
	// Messages returns a read-only channel from which raw messages can be consumed.
	// It is closed once the consumer has stopped.
	Messages() <-chan types.ConsumedMessage
	// Start initiates the consumption of messages.
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// --- Google Cloud Pub/Sub Consumer Implementation ---

// GooglePubsubConsumerConfig holds configuration for the Pub/Sub subscription consumer.
type GooglePubsubConsumerConfig struct {
	ProjectID              string `env:"GCP_PROJECT_ID"`
	SubscriptionID         string `env:"PUBSUB_SUBSCRIPTION_ID"`
	CredentialsFile        string `env:"GCP_PUBSUB_CREDENTIALS_FILE"` // Optional
	MaxOutstandingMessages int    `env:"PUBSUB_MAX_OUTSTANDING" envDefault:"100"`
	NumGoroutines          int    `env:"PUBSUB_NUM_GOROUTINES" envDefault:"5"`
}

// LoadGooglePubsubConsumerConfigFromEnv loads consumer configuration from environment variables.
func LoadGooglePubsubConsumerConfigFromEnv() (*GooglePubsubConsumerConfig, error) {
	cfg := &GooglePubsubConsumerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse Pub/Sub consumer environment: %w", err)
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub consumer")
	}
	if cfg.SubscriptionID == "" {
		return nil, errors.New("PUBSUB_SUBSCRIPTION_ID environment variable not set for Pub/Sub consumer")
	}
	return cfg, nil
}

// GooglePubsubConsumer receives messages from one Pub/Sub subscription and
// hands them out on a channel together with their Ack/Nack handles. Every
// message handed out must be acked or nacked; Stop waits for that.
type GooglePubsubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan types.ConsumedMessage
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	wg                 sync.WaitGroup
	doneChan           chan struct{}
}

// NewGooglePubsubConsumer connects to Pub/Sub and checks that the subscription
// exists. clientOpts override the credentials file from cfg when given.
func NewGooglePubsubConsumer(ctx context.Context, cfg *GooglePubsubConsumerConfig, clientOpts []option.ClientOption, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	opts := clientOpts
	if len(opts) == 0 && cfg.CredentialsFile != "" {
		opts = []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}
	sub := client.Subscription(cfg.SubscriptionID)

	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	exists, err := sub.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscription.Exists check for %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub subscription %s does not exist in project %s", cfg.SubscriptionID, cfg.ProjectID)
	}

	bufferSize := cfg.MaxOutstandingMessages
	if bufferSize <= 0 {
		bufferSize = 1
	}

	logger.Info().Str("subscription_id", cfg.SubscriptionID).Msg("Pub/Sub consumer ready")
	return &GooglePubsubConsumer{
		client:       client,
		subscription: sub,
		logger:       logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan types.ConsumedMessage, bufferSize),
		doneChan:     make(chan struct{}),
	}, nil
}

func (c *GooglePubsubConsumer) Messages() <-chan types.ConsumedMessage { return c.outputChan }

func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.doneChan)
		defer close(c.outputChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		// Each callback stays open until its message is settled: an Ack made
		// after Receive has returned would never reach the server, and the
		// message would be delivered a second time.
		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			settled := make(chan struct{})
			var once sync.Once
			settle := func(f func()) func() {
				return func() {
					once.Do(func() {
						f()
						close(settled)
					})
				}
			}

			consumedMsg := types.ConsumedMessage{
				ID:          msg.ID,
				Payload:     payloadCopy,
				PublishTime: msg.PublishTime,
				Attributes:  msg.Attributes,
				Ack:         settle(msg.Ack),
				Nack:        settle(msg.Nack),
			}
			if msg.DeliveryAttempt != nil {
				consumedMsg.DeliveryAttempt = *msg.DeliveryAttempt
			}

			select {
			case c.outputChan <- consumedMsg:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
				return
			}
			<-settled
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

func (c *GooglePubsubConsumer) Stop() error {
	var closeErr error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
			select {
			case <-c.Done():
				c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
			case <-time.After(30 * time.Second):
				c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			}
		} else {
			// Never started: release anyone waiting on the channels.
			close(c.outputChan)
			close(c.doneChan)
		}
		if err := c.client.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
			closeErr = err
		} else {
			c.logger.Info().Msg("Pub/Sub client closed.")
		}
	})
	return closeErr
}

func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }
