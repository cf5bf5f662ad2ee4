package main

import (
	"context"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/rs/zerolog"
)

// warmUp tries to connect before the first message arrives. It waits at most
// timeout; with unbounded retries the connect cycle carries on in the
// background and the first message picks up whatever it produced.
func warmUp(ctx context.Context, conn *broker.ConnectionManager, timeout time.Duration, logger zerolog.Logger) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := conn.EnsureConnected(ctx); err != nil {
		logger.Warn().Err(err).Dur("timeout", timeout).Msg("Warm-up connection failed, the first message will retry.")
		return false
	}
	logger.Info().Msg("Warm-up connection established.")
	return true
}
