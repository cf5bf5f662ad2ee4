package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/sampler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	numMessages := flag.Int("n", 10, "Number of messages to capture before exiting.")
	outputFile := flag.String("o", "destination_samples.json", "Output file to save the captured messages.")
	configFile := flag.String("config", "", "Optional YAML file with the destination broker settings.")
	flag.Parse()

	if _, err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env files")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid destination configuration")
	}
	log.Info().Str("broker", cfg.Host).Str("topic", cfg.Topic).Str("output", *outputFile).
		Int("sampling", *numMessages).
		Msg("Starting destination sampler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := sampler.New(cfg, log.Logger, *numMessages)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sampler settings")
	}
	if err := s.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Sampler execution failed")
	}

	messages := s.Messages()
	if len(messages) == 0 {
		log.Warn().Msg("No messages were captured. The output file will not be created.")
		return
	}
	if err := sampler.WriteFile(*outputFile, messages); err != nil {
		log.Error().Err(err).Str("file", *outputFile).Msg("Failed to write messages to file")
		return
	}
	log.Info().Str("file", *outputFile).Int("message_count", len(messages)).Msg("Successfully saved captured messages.")
}
