package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/go-bridge/pkg/broker"
	"github.com/illmade-knight/go-bridge/pkg/config"
	"github.com/illmade-knight/go-bridge/pkg/forwarder"
	"github.com/illmade-knight/go-bridge/pkg/metrics"
	"github.com/illmade-knight/go-bridge/pkg/trigger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// runtimeConfig holds the process-level settings that are not part of the
// destination configuration.
type runtimeConfig struct {
	ConfigFile    string        `env:"BRIDGE_CONFIG_FILE"`
	MetricsAddr   string        `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	WarmUp        bool          `env:"BRIDGE_WARM_UP" envDefault:"false"`
	WarmUpTimeout time.Duration `env:"BRIDGE_WARM_UP_TIMEOUT" envDefault:"30s"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if n, err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env files")
	} else if n > 0 {
		log.Info().Int("files", n).Msg("Loaded .env files")
	}

	var rc runtimeConfig
	if err := env.Parse(&rc); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse runtime environment")
	}
	configFile := flag.String("config", rc.ConfigFile, "Optional YAML file with the destination broker settings.")
	flag.StringVar(&rc.MetricsAddr, "metrics-addr", rc.MetricsAddr, "Address for the Prometheus /metrics endpoint; empty disables it.")
	flag.BoolVar(&rc.WarmUp, "warm-up", rc.WarmUp, "Connect to the broker at startup instead of on the first message.")
	flag.DurationVar(&rc.WarmUpTimeout, "warm-up-timeout", rc.WarmUpTimeout, "How long startup waits for the warm-up connection.")
	flag.Parse()

	level, err := zerolog.ParseLevel(rc.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", rc.LogLevel).Msg("Invalid LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid destination configuration")
	}
	logger := log.With().Str("namespace", cfg.Namespace).Logger()
	logger.Info().Interface("config", cfg.Redacted()).Msg("Configuration loaded")

	pubsubCfg, err := trigger.LoadGooglePubsubConsumerConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Pub/Sub trigger configuration")
	}
	var serviceCfg trigger.ServiceConfig
	if err := env.Parse(&serviceCfg); err != nil {
		log.Fatal().Err(err).Msg("Invalid trigger service configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rc, pubsubCfg, serviceCfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Bridge exited with error")
	}
	logger.Info().Msg("Bridge stopped.")
}

func run(ctx context.Context, cfg config.Config, rc runtimeConfig, pubsubCfg *trigger.GooglePubsubConsumerConfig, serviceCfg trigger.ServiceConfig, logger zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	dialer, err := broker.NewDialer(cfg, logger)
	if err != nil {
		return err
	}
	conn := broker.NewConnectionManager(dialer, broker.RetryPolicyFromConfig(cfg), logger, broker.WithObserver(m))
	defer conn.Close()

	fwd, err := forwarder.New(conn, cfg.Topic, cfg.DeliveryMode, logger, forwarder.WithRecorder(m))
	if err != nil {
		return err
	}

	if rc.WarmUp {
		warmUp(ctx, conn, rc.WarmUpTimeout, logger)
	}

	consumer, err := trigger.NewGooglePubsubConsumer(ctx, pubsubCfg, nil, logger)
	if err != nil {
		return err
	}
	service, err := trigger.NewService(serviceCfg, consumer, fwd, logger)
	if err != nil {
		return err
	}
	if err := service.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if rc.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		srv := &http.Server{Addr: rc.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", rc.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		for err := range service.Err() {
			logger.Warn().Err(err).Msg("Message left for redelivery")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		service.Stop()
		return nil
	})

	return g.Wait()
}
