// Package emulators starts the containers used by the integration tests: the
// Pub/Sub emulator on the queue side and Mosquitto on the broker side.
package emulators

import (
	"context"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
)

// ImageContainer names an image and the ports it serves on.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

// GCImageContainer is an ImageContainer for a Google Cloud emulator.
type GCImageContainer struct {
	ImageContainer
	ProjectID       string
	SetEnvVariables bool
}

// terminateOnCleanup registers container termination with t.
func terminateOnCleanup(t *testing.T, ctx context.Context, container testcontainers.Container, name string) {
	t.Helper()
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("Failed to terminate emulator container")
		}
	})
}
