// Package brokertest provides an in-memory broker transport for unit tests.
package brokertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/types"
)

// ErrDialRefused is the error returned by scripted dial failures.
var ErrDialRefused = errors.New("fake broker refused connection")

// Dialer is a scriptable broker.Dialer. All published messages from every
// session it creates are recorded in one place. It is safe for concurrent use.
type Dialer struct {
	mu         sync.Mutex
	dials      int
	failNext   int
	down       bool
	dialDelay  time.Duration
	publishErr error
	sessions   []*Session
	published  []types.OutboundMessage
}

// NewDialer returns a Dialer whose dials succeed immediately.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial implements broker.Dialer.
func (d *Dialer) Dial(ctx context.Context, onLost func(error)) (broker.Session, error) {
	d.mu.Lock()
	d.dials++
	delay := d.dialDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, ErrDialRefused
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, ErrDialRefused
	}
	s := &Session{dialer: d, onLost: onLost}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// FailNext makes the next n dials fail.
func (d *Dialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// SetDown makes every dial fail until it is called again with false.
func (d *Dialer) SetDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

// SetDialDelay makes every dial take at least delay.
func (d *Dialer) SetDialDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialDelay = delay
}

// SetPublishError makes every publish on a live session fail with err.
func (d *Dialer) SetPublishError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishErr = err
}

// Dials returns how many times Dial has been called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Published returns a copy of every message accepted so far.
func (d *Dialer) Published() []types.OutboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.OutboundMessage, len(d.published))
	copy(out, d.published)
	return out
}

// LiveSessions counts sessions that are neither closed nor dropped.
func (d *Dialer) LiveSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sessions {
		if !s.closed && !s.dropped {
			n++
		}
	}
	return n
}

// DropConnection simulates a transport failure on every live session: their
// publishes start failing and their onLost callbacks fire with err.
func (d *Dialer) DropConnection(err error) {
	d.mu.Lock()
	var callbacks []func(error)
	for _, s := range d.sessions {
		if s.closed || s.dropped {
			continue
		}
		s.dropped = true
		if s.onLost != nil {
			callbacks = append(callbacks, s.onLost)
		}
	}
	d.mu.Unlock()

	for _, cb := range callbacks {
		cb(err)
	}
}

// BreakSilently marks every live session dead without firing onLost, like a
// transport that only notices the failure on the next write.
func (d *Dialer) BreakSilently() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		s.dropped = true
	}
}

// Session is the broker.Session handed out by Dialer.
type Session struct {
	dialer  *Dialer
	onLost  func(error)
	closed  bool
	dropped bool
}

// Publish implements broker.Session.
func (s *Session) Publish(ctx context.Context, msg types.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := s.dialer
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.closed || s.dropped {
		return broker.ErrNotConnected
	}
	if d.publishErr != nil {
		return d.publishErr
	}
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	d.published = append(d.published, types.OutboundMessage{Topic: msg.Topic, Payload: payload, Mode: msg.Mode})
	return nil
}

// Close implements broker.Session.
func (s *Session) Close() {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	return s.closed
}
