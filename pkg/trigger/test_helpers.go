package trigger

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-bridge/pkg/types"
)

// ====================================================================================
// Mocks for the interfaces defined in this package, for use in unit tests of
// anything that drives or is driven by the trigger service.
// ====================================================================================

// MockMessageConsumer is a mock implementation of the MessageConsumer interface.
type MockMessageConsumer struct {
	msgChan    chan types.ConsumedMessage
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

// NewMockMessageConsumer creates a new mock consumer with a buffered channel.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockMessageConsumer{
		msgChan:  make(chan types.ConsumedMessage, bufferSize),
		doneChan: make(chan struct{}),
	}
}

// Messages returns the read-only channel for consuming messages.
func (m *MockMessageConsumer) Messages() <-chan types.ConsumedMessage {
	return m.msgChan
}

// Start simulates the startup of a real consumer.
func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

// Stop closes the message and done channels. Messages still buffered stay
// readable until drained.
func (m *MockMessageConsumer) Stop() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopCount++
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

// Done returns the channel that signals when the consumer has fully stopped.
func (m *MockMessageConsumer) Done() <-chan struct{} {
	return m.doneChan
}

// Push is a test helper to inject a message into the mock consumer's channel.
func (m *MockMessageConsumer) Push(msg types.ConsumedMessage) {
	m.msgChan <- msg
}

// SetStartError configures the mock to return an error on Start().
func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Counts returns how many times Start and Stop were called.
func (m *MockMessageConsumer) Counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount, m.stopCount
}

// AckRecorder builds Ack/Nack handles for test messages and counts the calls.
type AckRecorder struct {
	mu    sync.Mutex
	acked map[string]int
	naked map[string]int
}

// NewAckRecorder returns an empty AckRecorder.
func NewAckRecorder() *AckRecorder {
	return &AckRecorder{acked: map[string]int{}, naked: map[string]int{}}
}

// Message returns a ConsumedMessage whose Ack and Nack are recorded under id.
func (r *AckRecorder) Message(id string, payload []byte) types.ConsumedMessage {
	return types.ConsumedMessage{
		ID:      id,
		Payload: payload,
		Ack: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.acked[id]++
		},
		Nack: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.naked[id]++
		},
	}
}

// Acked returns how many times id was acked.
func (r *AckRecorder) Acked(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked[id]
}

// Nacked returns how many times id was nacked.
func (r *AckRecorder) Nacked(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.naked[id]
}
