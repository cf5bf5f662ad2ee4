package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Observer is notified of connection lifecycle events. Calls are made while the
// manager holds its lock, so implementations must be quick and must not call
// back into the manager.
type Observer interface {
	StateChanged(from, to State)
	ConnectAttempt(err error)
}

// Option configures a ConnectionManager.
type Option func(*ConnectionManager)

// WithObserver registers o for lifecycle events.
func WithObserver(o Observer) Option {
	return func(m *ConnectionManager) {
		m.observer = o
	}
}

// ConnectionManager owns the single session to the destination broker. It
// connects lazily on the first EnsureConnected and reconnects on transport
// failure using its RetryPolicy.
//
// Exactly one connect cycle runs at a time. A cycle runs on the manager's own
// goroutine, so a caller whose context ends while waiting only stops waiting;
// the cycle carries on and serves later callers.
type ConnectionManager struct {
	dialer   Dialer
	policy   RetryPolicy
	logger   zerolog.Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	session Session
	cycle   uint64
	done    chan struct{} // closed when the current cycle ends
	lastErr error
	closed  bool

	attempts atomic.Int64
}

// NewConnectionManager creates a manager in the Unconnected state. No network
// activity happens until EnsureConnected is called.
func NewConnectionManager(dialer Dialer, policy RetryPolicy, logger zerolog.Logger, opts ...Option) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ConnectionManager{
		dialer: dialer,
		policy: policy,
		logger: logger.With().Str("component", "ConnectionManager").Logger(),
		ctx:    ctx,
		cancel: cancel,
		state:  Unconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureConnected returns the live session, starting a connect cycle if there
// is none and waiting for the cycle in progress otherwise. It returns a
// *ConnectionError when the cycle it waited on exhausted its retries, and
// ctx's error if ctx ends first.
func (m *ConnectionManager) EnsureConnected(ctx context.Context) (Session, error) {
	m.mu.Lock()
	waited := false
	for {
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}

		switch m.state {
		case Connected:
			s := m.session
			m.mu.Unlock()
			return s, nil
		case Failed:
			if waited {
				err := m.lastErr
				m.mu.Unlock()
				return nil, err
			}
			m.logger.Info().Msg("Previous connect cycle failed, starting a new one.")
			m.startCycleLocked(false, nil, nil)
		case Unconnected:
			m.startCycleLocked(false, nil, nil)
		}

		done := m.done
		m.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for broker connection: %w", ctx.Err())
		}

		m.mu.Lock()
		waited = true
	}
}

// ReportFailure tells the manager that s failed during use. If s is still the
// live session a reconnect cycle starts; reports about older sessions are ignored.
func (m *ConnectionManager) ReportFailure(s Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != Connected || m.session != s {
		return
	}
	m.transportLostLocked(err)
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectAttempts returns the number of dials made since the manager was created.
func (m *ConnectionManager) ConnectAttempts() int64 {
	return m.attempts.Load()
}

// Close stops any connect cycle, closes the session and makes every later
// EnsureConnected return ErrClosed.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	s := m.session
	m.session = nil
	m.setStateLocked(Unconnected)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	if s != nil {
		s.Close()
	}
	m.logger.Info().Msg("Connection manager closed.")
}

func (m *ConnectionManager) setStateLocked(to State) {
	from := m.state
	m.state = to
	if from != to && m.observer != nil {
		m.observer.StateChanged(from, to)
	}
}

// transportLostLocked drops the live session and starts a reconnect cycle.
func (m *ConnectionManager) transportLostLocked(err error) {
	old := m.session
	m.session = nil
	m.logger.Warn().Err(err).Msg("Broker session lost, reconnecting.")
	m.startCycleLocked(true, old, err)
}

// startCycleLocked moves to Connecting and launches one connect cycle. old, if
// set, is closed by the cycle before it dials so there is never more than one
// live session.
func (m *ConnectionManager) startCycleLocked(reconnect bool, old Session, cause error) {
	m.cycle++
	m.done = make(chan struct{})
	m.lastErr = nil
	m.setStateLocked(Connecting)

	m.wg.Add(1)
	go m.runCycle(m.cycle, m.done, reconnect, old, cause)
}

func (m *ConnectionManager) runCycle(cycle uint64, done chan struct{}, reconnect bool, old Session, cause error) {
	defer m.wg.Done()
	defer close(done)

	if old != nil {
		old.Close()
	}

	maxAttempts := m.policy.connectAttempts()
	delayFirst := false
	if reconnect {
		maxAttempts = m.policy.reconnectAttempts()
		delayFirst = true
	}

	lastErr := cause
	attempt := 0
	for maxAttempts < 0 || attempt < maxAttempts {
		if attempt > 0 || delayFirst {
			if !sleep(m.ctx, m.policy.ReconnectDelay) {
				return
			}
		}
		attempt++

		session, loss, err := m.dialOnce(cycle)
		if err == nil {
			installed, lostErr := m.install(cycle, session, loss)
			if installed {
				return
			}
			session.Close()
			if lostErr == nil {
				return
			}
			err = fmt.Errorf("session lost during handshake: %w", lostErr)
		}
		lastErr = err
		if m.ctx.Err() != nil {
			return
		}
		m.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Bool("reconnect", reconnect).
			Msg("Broker connection attempt failed.")
	}

	m.fail(cycle, &ConnectionError{Attempts: attempt, Err: lastErr})
}

// dialLoss tracks one dial's transport-loss notification. A loss reported
// before the session is installed must not be dropped. Guarded by m.mu.
type dialLoss struct {
	installed bool
	err       error
}

func (m *ConnectionManager) dialOnce(cycle uint64) (Session, *dialLoss, error) {
	m.attempts.Add(1)

	ctx := m.ctx
	if m.policy.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(m.ctx, m.policy.ConnectTimeout)
		defer cancel()
	}

	loss := &dialLoss{}
	session, err := m.dialer.Dial(ctx, func(err error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.cycle != cycle {
			return
		}
		if !loss.installed {
			if loss.err == nil {
				loss.err = err
			}
			return
		}
		if m.state == Connected {
			m.transportLostLocked(err)
		}
	})

	m.mu.Lock()
	if m.observer != nil {
		m.observer.ConnectAttempt(err)
	}
	m.mu.Unlock()
	return session, loss, err
}

// install makes s the live session. It reports false when the manager moved
// on, or with the loss cause when s died before it could be installed.
func (m *ConnectionManager) install(cycle uint64, s Session, loss *dialLoss) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cycle != cycle {
		return false, nil
	}
	if loss.err != nil {
		return false, loss.err
	}
	loss.installed = true
	m.session = s
	m.setStateLocked(Connected)
	m.logger.Info().Int64("total_attempts", m.attempts.Load()).Msg("Connected to destination broker.")
	return true, nil
}

func (m *ConnectionManager) fail(cycle uint64, err *ConnectionError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cycle != cycle {
		return
	}
	m.lastErr = err
	m.setStateLocked(Failed)
	m.logger.Error().Err(err).Msg("Broker connection retries exhausted.")
}
