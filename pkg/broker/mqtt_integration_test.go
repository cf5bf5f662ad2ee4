//go:build integration

package broker_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/helpers/emulators"
	"github.com/illmade-knight/go-bridge/pkg/sampler"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTDialer_PublishToMosquitto(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	mqttBroker := emulators.SetupMQTTBroker(t, ctx, emulators.GetDefaultMQTTConfig())

	cfg := config.Default()
	cfg.Host = mqttBroker.URL
	cfg.Namespace = "integration"
	cfg.Topic = "azure"
	logger := zerolog.New(zerolog.NewTestWriter(t))

	s, err := sampler.New(cfg, logger, 2)
	require.NoError(t, err)
	sampleCtx, stopSampling := context.WithCancel(ctx)
	defer stopSampling()
	sampleDone := make(chan error, 1)
	go func() { sampleDone <- s.Run(sampleCtx) }()
	select {
	case <-s.Ready():
	case <-time.After(30 * time.Second):
		t.Fatal("sampler did not subscribe")
	}

	dialer, err := broker.NewDialer(cfg, logger)
	require.NoError(t, err)
	m := broker.NewConnectionManager(dialer, broker.RetryPolicyFromConfig(cfg), logger)
	defer m.Close()

	session, err := m.EnsureConnected(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Publish(ctx, types.OutboundMessage{Topic: cfg.Topic, Payload: []byte("hello"), Mode: types.Direct}))
	require.NoError(t, session.Publish(ctx, types.OutboundMessage{Topic: cfg.Topic, Payload: []byte{0x00, 0xff}, Mode: types.Persistent}))

	select {
	case err := <-sampleDone:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("sampler did not capture both messages")
	}
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("hello"), msgs[0].Raw)
	assert.Equal(t, []byte{0x00, 0xff}, msgs[1].Raw)
}

func TestMQTTDialer_UnreachableBrokerExhaustsRetries(t *testing.T) {
	// Reserve a port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := config.Default()
	cfg.Host = "tcp://" + addr
	cfg.Namespace = "integration"
	cfg.ConnectRetries = 1
	cfg.ConnectTimeoutMs = 1000
	cfg.ReconnectDelayMs = 50

	dialer, err := broker.NewDialer(cfg, zerolog.Nop())
	require.NoError(t, err)
	m := broker.NewConnectionManager(dialer, broker.RetryPolicyFromConfig(cfg), zerolog.Nop())
	defer m.Close()

	_, err = m.EnsureConnected(context.Background())

	var connErr *broker.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, 2, connErr.Attempts)
	assert.Equal(t, broker.Failed, m.State())
}
