package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ultra-server/services/orchestrator-api/internal/infrastructure/logger"
)

const DefaultModelConfigFile = "config/models.yml"

// ModelEntry describes one model that should be registered on startup.
type ModelEntry struct {
	ID               string
	Provider         string
	DisplayName      string
	BaseURL          string
	UpstreamName     string
	APIKey           string
	MaxContextTokens int
	Streaming        bool
	Tags             []string
}

// RetryConfig mirrors the resilience retry policy in file form.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Base           float64
	JitterFraction float64
}

// BreakerConfig mirrors the circuit breaker settings in file form.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
}

// ModelBootstrap is the parsed model configuration document: the models to
// register plus the per-provider timeout table and resilience defaults.
type ModelBootstrap struct {
	Entries  []ModelEntry
	Timeouts map[string]time.Duration
	Retry    RetryConfig
	Breaker  BreakerConfig
}

// TimeoutFor returns the provider's timeout from the table, or fallback when
// the table has no entry.
func (b *ModelBootstrap) TimeoutFor(provider string, fallback time.Duration) time.Duration {
	if b == nil {
		return fallback
	}
	if d, ok := b.Timeouts[strings.TrimSpace(provider)]; ok && d > 0 {
		return d
	}
	return fallback
}

// LoadModelBootstrap parses the yaml file at the provided path.
func LoadModelBootstrap(path string) (*ModelBootstrap, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model config path is empty")
	}

	log := logger.GetLogger()
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read model config %q: %w", cleanPath, err)
	}
	log.Info().Str("path", cleanPath).Msg("loading model config file")

	return ParseModelBootstrap(data)
}

// ParseModelBootstrap parses a model configuration document.
func ParseModelBootstrap(data []byte) (*ModelBootstrap, error) {
	var doc modelConfigDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}

	if len(doc.Models) == 0 {
		return nil, errors.New("model config has no models defined")
	}

	result := &ModelBootstrap{
		Timeouts: make(map[string]time.Duration),
	}

	for provider, raw := range doc.Timeouts {
		d, err := parseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("timeouts.%s: %w", provider, err)
		}
		result.Timeouts[strings.TrimSpace(provider)] = d
	}

	retry, err := doc.Defaults.Retry.normalize()
	if err != nil {
		return nil, fmt.Errorf("defaults.retry: %w", err)
	}
	result.Retry = retry

	breaker, err := doc.Defaults.Breaker.normalize()
	if err != nil {
		return nil, fmt.Errorf("defaults.breaker: %w", err)
	}
	result.Breaker = breaker

	log := logger.GetLogger()
	seen := make(map[string]bool)
	for idx, entry := range doc.Models {
		enabled, err := parseEnabled(entry.EnableRaw)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", idx, err)
		}
		if !enabled {
			log.Info().Int("index", idx).Str("id", entry.ID).Msg("skipping model (enable=false)")
			continue
		}
		normalized, err := normalizeModelEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", idx, err)
		}
		if seen[normalized.ID] {
			return nil, fmt.Errorf("models[%d]: duplicate model id %q", idx, normalized.ID)
		}
		seen[normalized.ID] = true
		result.Entries = append(result.Entries, normalized)
	}

	if len(result.Entries) == 0 {
		return nil, errors.New("model config has no enabled models")
	}

	return result, nil
}

type modelConfigDocument struct {
	Timeouts map[string]string `yaml:"timeouts"`
	Defaults struct {
		Retry   retryConfigEntry   `yaml:"retry"`
		Breaker breakerConfigEntry `yaml:"breaker"`
	} `yaml:"defaults"`
	Models []modelConfigEntry `yaml:"models"`
}

type modelConfigEntry struct {
	EnableRaw        string   `yaml:"enable"`
	ID               string   `yaml:"id"`
	Provider         string   `yaml:"provider"`
	DisplayName      string   `yaml:"display_name"`
	URL              string   `yaml:"url"`
	BaseURL          string   `yaml:"base_url"`
	UpstreamName     string   `yaml:"upstream_name"`
	APIKey           string   `yaml:"api_key"`
	Key              string   `yaml:"key"`
	MaxContextTokens int      `yaml:"max_context_tokens"`
	Streaming        *bool    `yaml:"streaming"`
	Tags             []string `yaml:"tags"`
}

type retryConfigEntry struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelay   string  `yaml:"initial_delay"`
	MaxDelay       string  `yaml:"max_delay"`
	Base           float64 `yaml:"base"`
	JitterFraction float64 `yaml:"jitter_fraction"`
}

func (e retryConfigEntry) normalize() (RetryConfig, error) {
	cfg := RetryConfig{
		MaxAttempts:    e.MaxAttempts,
		Base:           e.Base,
		JitterFraction: e.JitterFraction,
	}
	var err error
	if cfg.InitialDelay, err = parseOptionalDuration(e.InitialDelay); err != nil {
		return cfg, fmt.Errorf("initial_delay: %w", err)
	}
	if cfg.MaxDelay, err = parseOptionalDuration(e.MaxDelay); err != nil {
		return cfg, fmt.Errorf("max_delay: %w", err)
	}
	return cfg, nil
}

type breakerConfigEntry struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"`
}

func (e breakerConfigEntry) normalize() (BreakerConfig, error) {
	cfg := BreakerConfig{
		FailureThreshold: e.FailureThreshold,
		SuccessThreshold: e.SuccessThreshold,
	}
	var err error
	if cfg.RecoveryTimeout, err = parseOptionalDuration(e.RecoveryTimeout); err != nil {
		return cfg, fmt.Errorf("recovery_timeout: %w", err)
	}
	return cfg, nil
}

func normalizeModelEntry(entry modelConfigEntry) (ModelEntry, error) {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return ModelEntry{}, errors.New("model id is required")
	}

	provider := strings.TrimSpace(entry.Provider)
	if provider == "" {
		return ModelEntry{}, errors.New("model provider is required")
	}

	baseURL := firstNonEmpty(entry.URL, entry.BaseURL)
	baseURL = strings.TrimSpace(os.ExpandEnv(baseURL))
	if baseURL == "" {
		return ModelEntry{}, errors.New("model url is required")
	}

	upstream := strings.TrimSpace(entry.UpstreamName)
	if upstream == "" {
		upstream = id
	}

	displayName := strings.TrimSpace(entry.DisplayName)
	if displayName == "" {
		displayName = id
	}

	apiKey := strings.TrimSpace(firstNonEmpty(entry.APIKey, entry.Key))
	if apiKey != "" {
		apiKey = os.ExpandEnv(apiKey)
	}

	streaming := true
	if entry.Streaming != nil {
		streaming = *entry.Streaming
	}

	return ModelEntry{
		ID:               id,
		Provider:         provider,
		DisplayName:      displayName,
		BaseURL:          baseURL,
		UpstreamName:     upstream,
		APIKey:           apiKey,
		MaxContextTokens: entry.MaxContextTokens,
		Streaming:        streaming,
		Tags:             entry.Tags,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseDuration(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, errors.New("duration is empty")
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return parseDuration(raw)
}

func parseEnabled(raw string) (bool, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return true, nil
	}

	resolved := strings.TrimSpace(os.ExpandEnv(value))
	if resolved == "" {
		return true, nil
	}

	parsed, err := strconv.ParseBool(resolved)
	if err != nil {
		return false, fmt.Errorf("enable: %w", err)
	}
	return parsed, nil
}
