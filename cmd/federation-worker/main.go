// Command federation-worker runs the FederationCoordinator of spec.md
// §4.11 against a fixed set of shard backends on an interval ticker.
// Grounded on the teacher's cmd/orchestrator/main.go signal-driven run
// loop and internal/tools/kafka/producer.go broker wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/exogenesis-omega/constellation/internal/config"
	"github.com/exogenesis-omega/constellation/internal/federation"
	"github.com/exogenesis-omega/constellation/internal/kafkatools"
	"github.com/exogenesis-omega/constellation/internal/observability"
	"github.com/exogenesis-omega/constellation/internal/serverindex"
)

const roundTopic = "constellation.federation.rounds"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index, err := serverindex.New(ctx, cfg.Database, cfg.Device.Dimension)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init server index")
	}
	shards := []federation.Shard{{Index: index, Region: cfg.Shard.Region}}

	var producer federation.Writer
	if brokers := strings.TrimSpace(cfg.Database.KafkaBrokers); brokers != "" {
		w, err := kafkatools.NewProducerFromBrokers(brokers)
		if err != nil {
			log.Warn().Err(err).Msg("kafka producer init failed, round completion will not be announced")
		} else {
			producer = w
		}
	}

	coord := federation.New(shards, roundTopic, producer, log.Logger)

	interval := federation.DefaultInterval
	if cfg.Shard.FederationIntervalSecs > 0 {
		interval = time.Duration(cfg.Shard.FederationIntervalSecs) * time.Second
	}

	log.Info().Dur("interval", interval).Msg("federation-worker starting")
	coord.Run(ctx, interval)
	log.Info().Msg("federation-worker stopped")
}
