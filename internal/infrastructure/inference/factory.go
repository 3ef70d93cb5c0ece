package inference

import (
	"fmt"

	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/utils/httpclients"
)

// Factory constructs raw provider adapters from descriptors. The resilience
// layer wraps the result before it reaches the registry.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// NewAdapter builds the provider-specific adapter for the descriptor.
// Unknown provider kinds fail with *model.ProviderUnsupportedError.
func (f *Factory) NewAdapter(descriptor model.ModelDescriptor, apiKey string) (model.ProviderAdapter, error) {
	client := httpclients.NewClient(fmt.Sprintf("%sClient", descriptor.ID))

	switch descriptor.Provider {
	case model.ProviderAnthropic:
		return newAnthropicAdapter(descriptor, client, apiKey), nil
	case model.ProviderOpenAI,
		model.ProviderOpenRouter,
		model.ProviderGoogle,
		model.ProviderMistral,
		model.ProviderGroq,
		model.ProviderCohere,
		model.ProviderAzureOpenAI,
		model.ProviderOllama,
		model.ProviderCustom:
		return newOpenAIAdapter(descriptor, client, apiKey), nil
	default:
		return nil, &model.ProviderUnsupportedError{Kind: descriptor.Provider}
	}
}
