package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// PubsubClient publishes generated payloads to a Pub/Sub topic.
type PubsubClient struct {
	projectID  string
	topicID    string
	clientOpts []option.ClientOption
	logger     zerolog.Logger

	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubsubClient creates a Client for projectID/topicID. Nothing is dialed
// until Connect.
func NewPubsubClient(projectID, topicID string, clientOpts []option.ClientOption, logger zerolog.Logger) *PubsubClient {
	return &PubsubClient{
		projectID:  projectID,
		topicID:    topicID,
		clientOpts: clientOpts,
		logger:     logger.With().Str("component", "PubsubClient").Str("topic_id", topicID).Logger(),
	}
}

// Connect creates the Pub/Sub client and checks the topic exists.
func (c *PubsubClient) Connect(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, c.projectID, c.clientOpts...)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	topic := client.Topic(c.topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("topic.Exists check for %s: %w", c.topicID, err)
	}
	if !exists {
		_ = client.Close()
		return fmt.Errorf("pubsub topic %s does not exist in project %s", c.topicID, c.projectID)
	}
	c.client = client
	c.topic = topic
	c.logger.Info().Msg("Connected to Pub/Sub topic")
	return nil
}

// Disconnect flushes pending publishes and closes the client.
func (c *PubsubClient) Disconnect() {
	if c.topic != nil {
		c.topic.Stop()
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing Pub/Sub client")
		}
	}
}

// Publish sends the next payload of source and waits for the server ID.
func (c *PubsubClient) Publish(ctx context.Context, source *Source) error {
	if c.topic == nil {
		return errors.New("pubsub client is not connected")
	}
	payload, err := source.PayloadGenerator.GeneratePayload(source)
	if err != nil {
		return fmt.Errorf("generate payload for %s: %w", source.ID, err)
	}
	result := c.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"source_id": source.ID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish for %s: %w", source.ID, err)
	}
	return nil
}

// SequencePayload is the JSON body produced by SequenceGenerator.
type SequencePayload struct {
	SourceID  string    `json:"source_id"`
	MessageID string    `json:"message_id"`
	Sequence  int64     `json:"sequence"`
	SentAt    time.Time `json:"sent_at"`
}

// SequenceGenerator produces numbered JSON payloads, so the receiving end can
// spot gaps and duplicates.
type SequenceGenerator struct {
	next atomic.Int64
}

// GeneratePayload implements PayloadGenerator.
func (g *SequenceGenerator) GeneratePayload(source *Source) ([]byte, error) {
	return json.Marshal(SequencePayload{
		SourceID:  source.ID,
		MessageID: uuid.New().String(),
		Sequence:  g.next.Add(1),
		SentAt:    time.Now().UTC(),
	})
}
