package broker

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(host string) config.Config {
	cfg := config.Default()
	cfg.Host = host
	cfg.Namespace = "tenant-a"
	cfg.Username = "bridge"
	cfg.Password = "secret"
	cfg.ConnectTimeoutMs = 1500
	cfg.KeepAliveMs = 20000
	return cfg
}

func TestNewDialer_SelectsTransportByScheme(t *testing.T) {
	d, err := NewDialer(baseConfig("tcp://localhost:1883"), zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MQTTDialer{}, d)

	d, err = NewDialer(baseConfig("kafka://localhost:9092"), zerolog.Nop())
	require.NoError(t, err)
	kd, ok := d.(*KafkaDialer)
	require.True(t, ok)
	assert.Equal(t, "localhost:9092", kd.addr)
	assert.Nil(t, kd.tlsConfig)
	assert.NotNil(t, kd.mechanism, "credentials should enable SASL/PLAIN")

	d, err = NewDialer(baseConfig("kafkas://localhost:9093"), zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, d.(*KafkaDialer).tlsConfig)
}

func TestMQTTDialer_ClientOptions(t *testing.T) {
	d, err := NewMQTTDialer(baseConfig("tcp://localhost:1883"), zerolog.Nop())
	require.NoError(t, err)

	opts := d.clientOptions(nil)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.True(t, strings.HasPrefix(opts.ClientID, "tenant-a-bridge-"), "client id was %s", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 1500*time.Millisecond, opts.ConnectTimeout)
	assert.Equal(t, int64(20), opts.KeepAlive)
	assert.False(t, opts.AutoReconnect, "reconnects belong to the ConnectionManager")
	assert.False(t, opts.ConnectRetry)
	assert.Nil(t, d.tlsConfig)

	other := d.clientOptions(nil)
	assert.NotEqual(t, opts.ClientID, other.ClientID, "each attempt gets a unique client id")
}

func TestMQTTDialer_TLS(t *testing.T) {
	t.Run("skip verification when validation disabled", func(t *testing.T) {
		cfg := baseConfig("ssl://localhost:8883")
		cfg.ValidateCertificate = false

		d, err := NewMQTTDialer(cfg, zerolog.Nop())

		require.NoError(t, err)
		require.NotNil(t, d.tlsConfig)
		assert.True(t, d.tlsConfig.InsecureSkipVerify)
	})

	t.Run("verify by default", func(t *testing.T) {
		d, err := NewMQTTDialer(baseConfig("mqtts://localhost:8883"), zerolog.Nop())

		require.NoError(t, err)
		require.NotNil(t, d.tlsConfig)
		assert.False(t, d.tlsConfig.InsecureSkipVerify)
	})

	t.Run("missing CA file", func(t *testing.T) {
		cfg := baseConfig("tls://localhost:8883")
		cfg.CACertFile = filepath.Join(t.TempDir(), "missing.pem")

		_, err := NewMQTTDialer(cfg, zerolog.Nop())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read CA certificate file")
	})
}

func TestQoSFor(t *testing.T) {
	assert.Equal(t, byte(0), qosFor(types.Direct))
	assert.Equal(t, byte(1), qosFor(types.Persistent))
}

func TestRetryPolicy(t *testing.T) {
	cfg := baseConfig("tcp://localhost:1883")
	cfg.ConnectRetries = 2
	cfg.ReconnectRetries = config.RetryForever
	cfg.ReconnectDelayMs = 250

	p := RetryPolicyFromConfig(cfg)

	assert.Equal(t, 3, p.connectAttempts())
	assert.Equal(t, -1, p.reconnectAttempts())
	assert.Equal(t, 250*time.Millisecond, p.ReconnectDelay)
	assert.Equal(t, 1500*time.Millisecond, p.ConnectTimeout)

	p.ConnectRetries = config.RetryForever
	p.ReconnectRetries = 0
	assert.Equal(t, -1, p.connectAttempts())
	assert.Equal(t, 0, p.reconnectAttempts())
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(io.EOF))
	assert.True(t, isConnectionError(fmt.Errorf("write: %w", syscall.ECONNRESET)))
	assert.True(t, isConnectionError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, isConnectionError(errors.New("message too large")))
}
