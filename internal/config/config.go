package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Global singleton for components that cannot take injected config yet
var globalConfig *Config

// Config holds all environment backed configuration for orchestrator-api.
type Config struct {
	// HTTP Server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Model bootstrap
	ModelConfigFile string `env:"MODEL_CONFIG_FILE" envDefault:"config/models.yml"`

	// Pipeline
	MinimumModelsRequired int      `env:"MINIMUM_MODELS_REQUIRED" envDefault:"2"`
	RequiredProviders     []string `env:"REQUIRED_PROVIDERS" envSeparator:","`
	DefaultLeadModel      string   `env:"DEFAULT_LEAD_MODEL"`
	EvaluatorModel        string   `env:"EVALUATOR_MODEL"`

	// Health probe
	HealthProbeEnabled         bool `env:"HEALTH_PROBE_ENABLED" envDefault:"true"`
	HealthProbeIntervalMinutes int  `env:"HEALTH_PROBE_INTERVAL_MINUTES" envDefault:"5"`

	// Observability / Logging
	OTLPEndpoint     string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders      string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	ServiceName      string `env:"SERVICE_NAME" envDefault:"orchestrator-api"`
	ServiceNamespace string `env:"SERVICE_NAMESPACE" envDefault:"ultra"`
	Environment      string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"console"`

	// Fallback provider call timeout when the model file has no entry
	DefaultProviderTimeout time.Duration `env:"DEFAULT_PROVIDER_TIMEOUT" envDefault:"60s"`

	// Resolved model bootstrap document
	Models *ModelBootstrap `env:"-"`

	// Internal
	LoadedAt time.Time
}

// Load parses environment variables into Config, loads the model bootstrap
// file and performs minimal validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.MinimumModelsRequired < 1 {
		return nil, fmt.Errorf("MINIMUM_MODELS_REQUIRED must be at least 1, got %d", cfg.MinimumModelsRequired)
	}

	configFile := strings.TrimSpace(cfg.ModelConfigFile)
	if configFile != "" {
		bootstrap, err := LoadModelBootstrap(configFile)
		if err != nil {
			return nil, fmt.Errorf("load model config: %w", err)
		}
		cfg.Models = bootstrap
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LoadedAt = time.Now()

	globalConfig = cfg
	return cfg, nil
}

// GetGlobal returns the global config instance.
// Deprecated: Use dependency injection with Load() instead.
func GetGlobal() *Config {
	return globalConfig
}

var Version = "dev"

func IsDev() bool {
	return strings.HasPrefix(Version, "dev")
}
