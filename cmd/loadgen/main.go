package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/loadgen"
	"github.com/illmade-knight/go-bridge/pkg/trigger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	topicID := flag.String("topic", "", "Pub/Sub topic the bridge subscription reads from.")
	numSources := flag.Int("sources", 1, "Number of concurrent sources.")
	rate := flag.Float64("rate", 1, "Messages per second per source.")
	duration := flag.Duration("duration", 30*time.Second, "How long to generate load.")
	flag.Parse()

	if _, err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env files")
	}
	pubsubCfg, err := trigger.LoadGooglePubsubConsumerConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Pub/Sub configuration")
	}
	if *topicID == "" {
		log.Fatal().Msg("-topic is required")
	}

	var opts []option.ClientOption
	if pubsubCfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(pubsubCfg.CredentialsFile))
	}

	gen := &loadgen.SequenceGenerator{}
	sources := make([]*loadgen.Source, *numSources)
	for i := range sources {
		sources[i] = &loadgen.Source{ID: fmt.Sprintf("source-%d", i+1), MessageRate: *rate, PayloadGenerator: gen}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := loadgen.NewPubsubClient(pubsubCfg.ProjectID, *topicID, opts, log.Logger)
	published, err := loadgen.NewLoadGenerator(client, sources, log.Logger).Run(ctx, *duration)
	if err != nil {
		log.Fatal().Err(err).Msg("Load generation failed")
	}
	log.Info().Int("published", published).Msg("Load generation complete")
}
