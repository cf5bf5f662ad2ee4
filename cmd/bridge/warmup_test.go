package main

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/broker/brokertest"
	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, dialer broker.Dialer) *broker.ConnectionManager {
	t.Helper()
	m := broker.NewConnectionManager(dialer, broker.RetryPolicy{
		ConnectRetries:   config.RetryForever,
		ConnectTimeout:   time.Second,
		ReconnectRetries: config.RetryForever,
		ReconnectDelay:   5 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(m.Close)
	return m
}

func TestWarmUp_Connects(t *testing.T) {
	dialer := brokertest.NewDialer()
	m := newTestManager(t, dialer)

	assert.True(t, warmUp(context.Background(), m, time.Second, zerolog.Nop()))
	assert.Equal(t, broker.Connected, m.State())
}

func TestWarmUp_UnreachableBrokerDoesNotBlockStartup(t *testing.T) {
	dialer := brokertest.NewDialer()
	dialer.SetDown(true)
	m := newTestManager(t, dialer)

	start := time.Now()
	ok := warmUp(context.Background(), m, 50*time.Millisecond, zerolog.Nop())

	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, broker.Connecting, m.State(), "the cycle keeps retrying in the background")

	dialer.SetDown(false)
	require.Eventually(t, func() bool { return m.State() == broker.Connected }, 2*time.Second, 5*time.Millisecond)
}
