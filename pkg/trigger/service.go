package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// Forwarder is the bridge core as seen from the trigger: one call per inbound payload.
type Forwarder interface {
	Forward(ctx context.Context, payload []byte) error
}

// ServiceConfig holds configuration for the trigger Service.
type ServiceConfig struct {
	NumWorkers     int           `env:"TRIGGER_NUM_WORKERS" envDefault:"10"`
	ForwardTimeout time.Duration `env:"TRIGGER_FORWARD_TIMEOUT" envDefault:"30s"`
	ErrChanSize    int           `env:"TRIGGER_ERROR_BUFFER" envDefault:"100"`
}

// DefaultServiceConfig provides sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NumWorkers:     10,
		ForwardTimeout: 30 * time.Second,
		ErrChanSize:    100,
	}
}

// Service invokes the Forwarder once per inbound message. A successful forward
// acks the message; any error nacks it so the queue redelivers.
type Service struct {
	cfg       ServiceConfig
	consumer  MessageConsumer
	forwarder Forwarder
	logger    zerolog.Logger

	errChan      chan error
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
	stopOnce     sync.Once
}

// NewService creates a Service. Non-positive config values fall back to the defaults.
func NewService(cfg ServiceConfig, consumer MessageConsumer, forwarder Forwarder, logger zerolog.Logger) (*Service, error) {
	if consumer == nil {
		return nil, errors.New("message consumer cannot be nil")
	}
	if forwarder == nil {
		return nil, errors.New("forwarder cannot be nil")
	}

	defaults := DefaultServiceConfig()
	if cfg.NumWorkers <= 0 {
		logger.Warn().Int("provided_workers", cfg.NumWorkers).Int("default_workers", defaults.NumWorkers).
			Msg("NumWorkers was zero or negative, applying default value.")
		cfg.NumWorkers = defaults.NumWorkers
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = defaults.ForwardTimeout
	}
	if cfg.ErrChanSize <= 0 {
		cfg.ErrChanSize = defaults.ErrChanSize
	}

	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())
	return &Service{
		cfg:          cfg,
		consumer:     consumer,
		forwarder:    forwarder,
		logger:       logger.With().Str("service", "TriggerService").Logger(),
		errChan:      make(chan error, cfg.ErrChanSize),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}, nil
}

// Err returns a read-only channel of forwarding errors. Errors are dropped when
// nobody reads it and the buffer is full.
func (s *Service) Err() <-chan error {
	return s.errChan
}

// Start starts the consumer and the worker pool.
func (s *Service) Start() error {
	s.logger.Info().Int("workers", s.cfg.NumWorkers).Msg("Starting trigger service...")

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	for i := 0; i < s.cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info().Msg("Trigger service started.")
	return nil
}

// worker drains the consumer channel until it is closed.
func (s *Service) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Trigger worker started.")
	for msg := range s.consumer.Messages() {
		s.processMessage(msg, workerID)
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
}

// processMessage forwards one message and settles it with the queue. The
// forward runs on its own timeout, not the shutdown context, so messages
// already handed to a worker are still delivered during shutdown.
func (s *Service) processMessage(msg types.ConsumedMessage, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ForwardTimeout)
	defer cancel()

	logger := s.logger.With().Int("worker_id", workerID).Str("msg_id", msg.ID).Logger()
	logger.Info().Int("size", len(msg.Payload)).Int("delivery_attempt", msg.DeliveryAttempt).Msg("Processing queue message")

	if err := s.forwarder.Forward(ctx, msg.Payload); err != nil {
		logger.Error().Err(err).Msg("Forward failed, Nacking message for redelivery.")
		if msg.Nack != nil {
			msg.Nack()
		}
		s.sendError(fmt.Errorf("message %s: %w", msg.ID, err))
		return
	}

	if msg.Ack != nil {
		msg.Ack()
	}
	logger.Debug().Msg("Message forwarded and acknowledged.")
}

func (s *Service) sendError(err error) {
	select {
	case s.errChan <- err:
	default:
		s.logger.Warn().Err(err).Msg("Error channel is full, dropping error")
	}
}

// Stop stops consumption and lets the workers finish what they already hold.
// The consumer waits for those messages to be settled before it closes its
// client, so their acks are not lost. The error channel is closed last.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping trigger service...")
		s.shutdownFunc()

		if err := s.consumer.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Message consumer stopped with error")
		}
		<-s.consumer.Done()
		s.logger.Info().Msg("Message consumer stopped.")

		s.wg.Wait()
		close(s.errChan)
		s.logger.Info().Msg("Trigger service stopped.")
	})
}
