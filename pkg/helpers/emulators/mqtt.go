package emulators

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testMosquittoImage = "eclipse-mosquitto:2.0"
	testMosquittoPort  = "1883"
)

// mosquittoConf lets anonymous clients connect on the plain listener.
const mosquittoConf = `listener 1883
allow_anonymous true
`

// MQTTConfig describes the Mosquitto container.
type MQTTConfig struct {
	ImageContainer
}

// GetDefaultMQTTConfig returns an MQTTConfig for the standard Mosquitto image.
func GetDefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ImageContainer: ImageContainer{
			EmulatorImage:    testMosquittoImage,
			EmulatorHTTPPort: testMosquittoPort,
		},
	}
}

// MQTTBroker is a running Mosquitto container.
type MQTTBroker struct {
	container testcontainers.Container
	// URL is the tcp:// address of the broker as seen from the test.
	URL string
}

// SetupMQTTBroker starts Mosquitto and returns its address. The container is
// terminated when the test ends.
func SetupMQTTBroker(t *testing.T, ctx context.Context, cfg MQTTConfig) *MQTTBroker {
	t.Helper()
	port := nat.Port(fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort))
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{string(port)},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConf),
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForListeningPort(port),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	terminateOnCleanup(t, ctx, container, "mosquitto")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	b := &MQTTBroker{container: container, URL: fmt.Sprintf("tcp://%s:%s", host, mapped.Port())}
	t.Logf("Mosquitto container started, listening on: %s", b.URL)
	return b
}
