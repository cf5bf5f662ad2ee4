package loadgen

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPubsubClient(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	opts := []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}

	admin, err := pubsub.NewClient(ctx, "test-project", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.CreateTopic(ctx, "azure-in")
	require.NoError(t, err)

	t.Run("missing topic", func(t *testing.T) {
		c := NewPubsubClient("test-project", "no-such-topic", opts, zerolog.Nop())
		err := c.Connect(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("publish before connect", func(t *testing.T) {
		c := NewPubsubClient("test-project", "azure-in", opts, zerolog.Nop())
		err := c.Publish(ctx, &Source{ID: "s", PayloadGenerator: &SequenceGenerator{}})
		assert.Error(t, err)
	})

	t.Run("publishes with source attribute", func(t *testing.T) {
		c := NewPubsubClient("test-project", "azure-in", opts, zerolog.Nop())
		require.NoError(t, c.Connect(ctx))
		defer c.Disconnect()

		require.NoError(t, c.Publish(ctx, &Source{ID: "source-1", PayloadGenerator: &SequenceGenerator{}}))

		require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
		msg := srv.Messages()[0]
		assert.Equal(t, "source-1", msg.Attributes["source_id"])
		assert.Contains(t, string(msg.Data), `"sequence":1`)
	})
}
