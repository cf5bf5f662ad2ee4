package broker

import (
	"context"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/config"
)

// RetryPolicy controls both the initial connect and every later reconnect.
// A retry count of config.RetryForever (-1) never gives up.
type RetryPolicy struct {
	ConnectRetries   int
	ConnectTimeout   time.Duration
	ReconnectRetries int
	ReconnectDelay   time.Duration
}

// RetryPolicyFromConfig copies the retry parameters out of cfg.
func RetryPolicyFromConfig(cfg config.Config) RetryPolicy {
	return RetryPolicy{
		ConnectRetries:   cfg.ConnectRetries,
		ConnectTimeout:   cfg.ConnectTimeout(),
		ReconnectRetries: cfg.ReconnectRetries,
		ReconnectDelay:   cfg.ReconnectDelay(),
	}
}

// connectAttempts is the number of dials in an initial cycle, -1 for unbounded.
// The first dial is not a retry.
func (p RetryPolicy) connectAttempts() int {
	if p.ConnectRetries < 0 {
		return -1
	}
	return 1 + p.ConnectRetries
}

// reconnectAttempts is the number of dials after a transport failure, -1 for unbounded.
func (p RetryPolicy) reconnectAttempts() int {
	if p.ReconnectRetries < 0 {
		return -1
	}
	return p.ReconnectRetries
}

// sleep waits d or until ctx is done. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
