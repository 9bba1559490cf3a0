// Command constellation-server runs one shard of the constellation: the
// HTTP sync surface of spec.md §6 backed by a ServerIndex and
// ShardManager. Grounded on the teacher's internal/agentd/run.go Run()
// wiring sequence (load config, init logging, init otel, build the app,
// start listening) and cmd/orchestrator/main.go's signal-driven graceful
// shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/exogenesis-omega/constellation/internal/config"
	"github.com/exogenesis-omega/constellation/internal/httpapi"
	"github.com/exogenesis-omega/constellation/internal/observability"
	"github.com/exogenesis-omega/constellation/internal/serverindex"
	"github.com/exogenesis-omega/constellation/internal/shard"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	index, err := serverindex.New(ctx, cfg.Database, cfg.Device.Dimension)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init server index")
	}

	cache, err := shard.NewDeviceCache(cfg.Database.RedisAddr, 24*time.Hour, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init device cache")
	}

	manager := shard.New(shard.Config{
		ShardID:          cfg.Shard.ShardID,
		Region:           cfg.Shard.Region,
		MaxDevices:       cfg.Shard.MaxDevices,
		QualityThreshold: cfg.Shard.QualityThreshold,
	}, index, cache, log.Logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	httpapi.New(manager, log.Logger).Register(e)

	addr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	go func() {
		log.Info().Str("addr", addr).Str("shard_id", cfg.Shard.ShardID).Msg("constellation-server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
