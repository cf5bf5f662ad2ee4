package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupTestPubsub starts a pstest.Server with one topic and one subscription and
// returns the client options that point at it.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) []option.ClientOption {
	t.Helper()
	_, opts := setupTestPubsubServer(t, projectID, topicID, subID)
	return opts
}

// setupTestPubsubServer is setupTestPubsub that also hands back the server, for
// tests that inspect acks and deliveries.
func setupTestPubsubServer(t *testing.T, projectID, topicID, subID string) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, client.Close())
		require.NoError(t, srv.Close())
	})
	return srv, opts
}

func publishTestMessage(t *testing.T, opts []option.ClientOption, projectID, topicID string, payload []byte, attrs map[string]string) {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)
	defer client.Close()

	topic := client.Topic(topicID)
	defer topic.Stop()
	_, err = topic.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attrs}).Get(ctx)
	require.NoError(t, err)
}

func TestLoadGooglePubsubConsumerConfigFromEnv(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "test-project")
		t.Setenv("PUBSUB_SUBSCRIPTION_ID", "test-sub")
		t.Setenv("PUBSUB_MAX_OUTSTANDING", "")
		t.Setenv("PUBSUB_NUM_GOROUTINES", "")

		cfg, err := LoadGooglePubsubConsumerConfigFromEnv()

		require.NoError(t, err)
		assert.Equal(t, "test-project", cfg.ProjectID)
		assert.Equal(t, "test-sub", cfg.SubscriptionID)
		assert.Equal(t, 100, cfg.MaxOutstandingMessages)
		assert.Equal(t, 5, cfg.NumGoroutines)
	})

	t.Run("missing project id", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "")
		t.Setenv("PUBSUB_SUBSCRIPTION_ID", "test-sub")

		cfg, err := LoadGooglePubsubConsumerConfigFromEnv()

		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "GCP_PROJECT_ID environment variable not set")
	})

	t.Run("missing subscription id", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "test-project")
		t.Setenv("PUBSUB_SUBSCRIPTION_ID", "")

		_, err := LoadGooglePubsubConsumerConfigFromEnv()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "PUBSUB_SUBSCRIPTION_ID")
	})
}

func TestNewGooglePubsubConsumer_SubscriptionNotFound(t *testing.T) {
	opts := setupTestPubsub(t, "test-project", "azure-in", "azure-in-sub")

	consumer, err := NewGooglePubsubConsumer(context.Background(), &GooglePubsubConsumerConfig{
		ProjectID:      "test-project",
		SubscriptionID: "non-existent-sub",
	}, opts, zerolog.Nop())

	require.Error(t, err)
	assert.Nil(t, consumer)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestGooglePubsubConsumer_StopWithoutStart(t *testing.T) {
	opts := setupTestPubsub(t, "test-project", "azure-in", "azure-in-sub")
	consumer, err := NewGooglePubsubConsumer(context.Background(), &GooglePubsubConsumerConfig{
		ProjectID:      "test-project",
		SubscriptionID: "azure-in-sub",
	}, opts, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, consumer.Stop())

	select {
	case <-consumer.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
	_, open := <-consumer.Messages()
	assert.False(t, open)
}

func TestGooglePubsubConsumer_LifecycleAndReception(t *testing.T) {
	projectID, topicID, subID := "test-project", "azure-in", "azure-in-sub"
	opts := setupTestPubsub(t, projectID, topicID, subID)

	consumer, err := NewGooglePubsubConsumer(context.Background(), &GooglePubsubConsumerConfig{
		ProjectID:              projectID,
		SubscriptionID:         subID,
		MaxOutstandingMessages: 1,
		NumGoroutines:          1,
	}, opts, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, consumer.Start(ctx))

	payload := []byte{0x00, 'h', 'e', 'l', 'l', 'o', 0xff}
	publishTestMessage(t, opts, projectID, topicID, payload, map[string]string{"source": "queue"})

	var received types.ConsumedMessage
	select {
	case received = <-consumer.Messages():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	assert.Equal(t, payload, received.Payload)
	assert.Equal(t, "queue", received.Attributes["source"])
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.PublishTime.IsZero())
	received.Ack()

	require.NoError(t, consumer.Stop())
	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumer to stop")
	}
}

// gateForwarder blocks every Forward until release is closed and signals
// entered when the first call arrives.
type gateForwarder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	got     [][]byte
}

func (f *gateForwarder) Forward(_ context.Context, payload []byte) error {
	f.once.Do(func() { close(f.entered) })
	<-f.release
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, payload)
	return nil
}

func TestService_StopAcksInFlightBeforeClosingClient(t *testing.T) {
	projectID, topicID, subID := "test-project", "azure-in", "azure-in-sub"
	srv, opts := setupTestPubsubServer(t, projectID, topicID, subID)

	consumer, err := NewGooglePubsubConsumer(context.Background(), &GooglePubsubConsumerConfig{
		ProjectID:              projectID,
		SubscriptionID:         subID,
		MaxOutstandingMessages: 10,
		NumGoroutines:          1,
	}, opts, zerolog.Nop())
	require.NoError(t, err)

	fwd := &gateForwarder{entered: make(chan struct{}), release: make(chan struct{})}
	svc, err := NewService(ServiceConfig{NumWorkers: 1, ForwardTimeout: 10 * time.Second}, consumer, fwd, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	publishTestMessage(t, opts, projectID, topicID, []byte("in flight"), nil)
	select {
	case <-fwd.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the forwarder")
	}

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()

	select {
	case <-consumer.Done():
		t.Fatal("consumer finished before the in-flight message was settled")
	case <-time.After(100 * time.Millisecond):
	}

	close(fwd.release)
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return after the message was settled")
	}

	require.Eventually(t, func() bool {
		msgs := srv.Messages()
		return len(msgs) == 1 && msgs[0].Acks == 1
	}, 5*time.Second, 10*time.Millisecond, "the ack must reach the server")
	assert.Equal(t, 1, srv.Messages()[0].Deliveries)
	assert.Equal(t, [][]byte{[]byte("in flight")}, fwd.got)
}
