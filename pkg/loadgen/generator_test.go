package loadgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/loadgen"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a mock implementation of the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Disconnect() {
	m.Called()
}

func (m *MockClient) Publish(ctx context.Context, source *loadgen.Source) error {
	args := m.Called(ctx, source)
	return args.Error(0)
}

func TestLoadGenerator_Run(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("Successful run", func(t *testing.T) {
		mockClient := new(MockClient)
		sources := []*loadgen.Source{{ID: "source-1", MessageRate: 20, PayloadGenerator: &loadgen.SequenceGenerator{}}}

		mockClient.On("Connect", mock.Anything).Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()
		mockClient.On("Publish", mock.Anything, sources[0]).Return(nil)

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		published, err := lg.Run(context.Background(), 230*time.Millisecond)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, published, 1)
		mockClient.AssertExpectations(t)
	})

	t.Run("Connect fails", func(t *testing.T) {
		mockClient := new(MockClient)
		connectErr := errors.New("connection failed")
		mockClient.On("Connect", mock.Anything).Return(connectErr).Once()

		lg := loadgen.NewLoadGenerator(mockClient, nil, logger)
		_, err := lg.Run(context.Background(), time.Second)

		assert.Equal(t, connectErr, err)
		mockClient.AssertNotCalled(t, "Disconnect")
	})

	t.Run("Publish failures are not counted", func(t *testing.T) {
		mockClient := new(MockClient)
		sources := []*loadgen.Source{{ID: "source-1", MessageRate: 50, PayloadGenerator: &loadgen.SequenceGenerator{}}}

		mockClient.On("Connect", mock.Anything).Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()
		mockClient.On("Publish", mock.Anything, sources[0]).Return(errors.New("queue unavailable"))

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		published, err := lg.Run(context.Background(), 100*time.Millisecond)

		require.NoError(t, err)
		assert.Equal(t, 0, published)
	})

	t.Run("Source with zero message rate", func(t *testing.T) {
		mockClient := new(MockClient)
		sources := []*loadgen.Source{{ID: "source-1", MessageRate: 0}}

		mockClient.On("Connect", mock.Anything).Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		published, err := lg.Run(context.Background(), 50*time.Millisecond)

		require.NoError(t, err)
		assert.Equal(t, 0, published)
		mockClient.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestSequenceGenerator(t *testing.T) {
	gen := &loadgen.SequenceGenerator{}
	source := &loadgen.Source{ID: "source-7"}

	first, err := gen.GeneratePayload(source)
	require.NoError(t, err)
	second, err := gen.GeneratePayload(source)
	require.NoError(t, err)

	var a, b loadgen.SequencePayload
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.Equal(t, "source-7", a.SourceID)
	assert.Equal(t, int64(1), a.Sequence)
	assert.Equal(t, int64(2), b.Sequence)
	assert.NotEqual(t, a.MessageID, b.MessageID)
}
