// Package loadgen feeds the bridge's inbound queue at a fixed rate per source.
package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Source is one simulated producer on the inbound queue.
type Source struct {
	ID               string
	MessageRate      float64
	PayloadGenerator PayloadGenerator
}

// LoadGenerator drives every Source through one Client for a fixed duration.
type LoadGenerator struct {
	client    Client
	sources   []*Source
	logger    zerolog.Logger
	published atomic.Int64
	failed    atomic.Int64
}

// NewLoadGenerator creates a new LoadGenerator.
func NewLoadGenerator(client Client, sources []*Source, logger zerolog.Logger) *LoadGenerator {
	return &LoadGenerator{
		client:  client,
		sources: sources,
		logger:  logger,
	}
}

// Run publishes from every source until duration elapses or ctx ends and
// returns the number of messages published.
func (lg *LoadGenerator) Run(ctx context.Context, duration time.Duration) (int, error) {
	lg.logger.Info().Int("num_sources", len(lg.sources)).Dur("duration", duration).Msg("Starting load generator")

	if err := lg.client.Connect(ctx); err != nil {
		lg.logger.Error().Err(err).Msg("Failed to connect client")
		return 0, err
	}
	defer lg.client.Disconnect()

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, source := range lg.sources {
		wg.Add(1)
		go func(s *Source) {
			defer wg.Done()
			lg.runSource(ctx, s)
		}(source)
	}
	wg.Wait()

	published := int(lg.published.Load())
	lg.logger.Info().Int("published", published).Int64("failed", lg.failed.Load()).Msg("Load generator finished")
	return published, nil
}

func (lg *LoadGenerator) runSource(ctx context.Context, source *Source) {
	if source.MessageRate <= 0 {
		lg.logger.Warn().Str("source_id", source.ID).Msg("Source has a message rate of 0, no messages will be sent")
		return
	}

	interval := tickInterval(source.MessageRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg.logger.Info().Str("source_id", source.ID).Float64("rate_hz", source.MessageRate).Dur("interval", interval).Msg("Source starting")
	for {
		select {
		case <-ctx.Done():
			lg.logger.Info().Str("source_id", source.ID).Msg("Source stopping")
			return
		case <-ticker.C:
			if err := lg.client.Publish(ctx, source); err != nil {
				lg.failed.Add(1)
				lg.logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to publish message")
				continue
			}
			lg.published.Add(1)
		}
	}
}

// tickInterval converts a rate in Hz to a ticker period. Rates too high to
// express in nanoseconds get the shortest period a ticker accepts.
func tickInterval(rate float64) time.Duration {
	interval := time.Duration(float64(time.Second) / rate)
	if interval < time.Nanosecond {
		return time.Nanosecond
	}
	return interval
}
