package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/config"
	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/domain/orchestration"
	"ultra-server/services/orchestrator-api/internal/infrastructure/crontab"
	"ultra-server/services/orchestrator-api/internal/infrastructure/inference"
	"ultra-server/services/orchestrator-api/internal/infrastructure/resilience"
	"ultra-server/services/orchestrator-api/internal/interfaces/httpserver"
	"ultra-server/services/orchestrator-api/internal/interfaces/httpserver/handlers/orchestrationhandler"
)

// CreateApplication wires the whole service: model registration from the
// bootstrap file, evaluator selection, HTTP shim and the health probe.
func CreateApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	registry := model.NewRegistry(log)
	if err := registerModels(cfg, registry, log); err != nil {
		return nil, err
	}

	if registry.Len() < cfg.MinimumModelsRequired {
		return nil, fmt.Errorf("only %d models registered, pipeline requires %d",
			registry.Len(), cfg.MinimumModelsRequired)
	}

	evaluator, err := buildEvaluator(cfg, registry, log)
	if err != nil {
		return nil, err
	}

	orchCfg := orchestration.OrchestratorConfig{
		MinimumModelsRequired: cfg.MinimumModelsRequired,
		RequiredProviders:     cfg.RequiredProviders,
		DefaultLeadModel:      cfg.DefaultLeadModel,
		ServiceName:           cfg.ServiceName,
	}
	handler := orchestrationhandler.NewHandler(registry, evaluator, orchCfg, log)

	return &Application{
		httpServer: httpserver.NewHttpServer(handler, cfg, log),
		crontab:    crontab.NewCrontab(registry),
	}, nil
}

func registerModels(cfg *config.Config, registry *model.Registry, log zerolog.Logger) error {
	if cfg.Models == nil {
		return fmt.Errorf("no model bootstrap loaded (set MODEL_CONFIG_FILE)")
	}

	factory := inference.NewFactory()
	retry := resilience.RetryPolicy{
		MaxAttempts:    cfg.Models.Retry.MaxAttempts,
		InitialDelay:   cfg.Models.Retry.InitialDelay,
		MaxDelay:       cfg.Models.Retry.MaxDelay,
		Base:           cfg.Models.Retry.Base,
		JitterFraction: cfg.Models.Retry.JitterFraction,
	}
	breaker := resilience.BreakerSettings{
		FailureThreshold: cfg.Models.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Models.Breaker.SuccessThreshold,
		RecoveryTimeout:  cfg.Models.Breaker.RecoveryTimeout,
	}

	for _, entry := range cfg.Models.Entries {
		descriptor := model.ModelDescriptor{
			ID:           entry.ID,
			Provider:     model.ProviderKind(entry.Provider),
			DisplayName:  entry.DisplayName,
			BaseURL:      entry.BaseURL,
			UpstreamName: entry.UpstreamName,
			Capabilities: model.Capabilities{
				MaxContextTokens:  entry.MaxContextTokens,
				SupportsStreaming: entry.Streaming,
				Tags:              entry.Tags,
			},
		}

		raw, err := factory.NewAdapter(descriptor, entry.APIKey)
		if err != nil {
			return fmt.Errorf("model %s: %w", entry.ID, err)
		}

		settings := resilience.Settings{
			Timeout: cfg.Models.TimeoutFor(entry.Provider, cfg.DefaultProviderTimeout),
			Retry:   retry,
			Breaker: breaker,
		}
		if err := registry.Register(descriptor, resilience.NewAdapter(raw, descriptor, settings, log)); err != nil {
			return fmt.Errorf("model %s: %w", entry.ID, err)
		}
	}
	return nil
}

func buildEvaluator(cfg *config.Config, registry *model.Registry, log zerolog.Logger) (orchestration.Evaluator, error) {
	if cfg.EvaluatorModel == "" {
		return orchestration.HeuristicEvaluator{}, nil
	}
	adapter, err := registry.Get(cfg.EvaluatorModel)
	if err != nil {
		return nil, fmt.Errorf("evaluator model %s: %w", cfg.EvaluatorModel, err)
	}
	log.Info().Str("model_id", cfg.EvaluatorModel).Msg("using model-backed evaluator")
	return orchestration.NewModelEvaluator(adapter, log), nil
}
