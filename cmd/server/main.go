package main

import (
	"context"
	"time"

	"ultra-server/services/orchestrator-api/internal/config"
	"ultra-server/services/orchestrator-api/internal/infrastructure/logger"
	"ultra-server/services/orchestrator-api/internal/infrastructure/observability"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog := logger.GetLogger()
		bootLog.Fatal().Err(err).Msg("configure logger")
	}

	models := 0
	if cfg.Models != nil {
		models = len(cfg.Models.Entries)
	}
	log.Info().
		Str("version", config.Version).
		Str("environment", cfg.Environment).
		Int("models", models).
		Msg("starting orchestrator-api")

	otelShutdown, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("initialize observability")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown telemetry")
			}
		}()
	}

	application, err := CreateApplication(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create application")
	}

	application.Start()
}
