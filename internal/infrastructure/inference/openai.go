package inference

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"resty.dev/v3"

	"ultra-server/services/orchestrator-api/internal/domain/model"
)

// openAIAdapter talks to any OpenAI-compatible chat completion endpoint.
// OpenAI, OpenRouter, Mistral, Groq, Azure OpenAI and local Ollama all
// speak this dialect; only the auth header differs per provider kind.
type openAIAdapter struct {
	descriptor model.ModelDescriptor
	client     *resty.Client
	apiKey     string
}

func newOpenAIAdapter(descriptor model.ModelDescriptor, client *resty.Client, apiKey string) *openAIAdapter {
	client.SetBaseURL(normalizeBaseURL(descriptor.BaseURL))
	setAuthHeaders(client, descriptor.Provider, apiKey)
	return &openAIAdapter{descriptor: descriptor, client: client, apiKey: apiKey}
}

func (a *openAIAdapter) Name() string { return a.descriptor.ID }

func (a *openAIAdapter) Capabilities() model.Capabilities { return a.descriptor.Capabilities }

func (a *openAIAdapter) Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	body := openai.ChatCompletionRequest{
		Model:       a.descriptor.UpstreamName,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var respBody openai.ChatCompletionResponse
	start := time.Now()
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&respBody).
		Post("/chat/completions")
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyStatus(a.descriptor, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(respBody.Choices) == 0 {
		return nil, model.NewTransientError(a.descriptor.ID, a.descriptor.Provider, resp.StatusCode(),
			fmt.Errorf("provider returned no choices"))
	}

	return &model.GenerateResponse{
		Text:             respBody.Choices[0].Message.Content,
		PromptTokens:     respBody.Usage.PromptTokens,
		CompletionTokens: respBody.Usage.CompletionTokens,
		Latency:          latency,
	}, nil
}

func (a *openAIAdapter) TestConnection(ctx context.Context) error {
	resp, err := a.client.R().
		SetContext(ctx).
		Get("/models")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return classifyStatus(a.descriptor, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// setAuthHeaders applies the provider-specific auth header scheme.
func setAuthHeaders(client *resty.Client, kind model.ProviderKind, apiKey string) {
	if strings.TrimSpace(apiKey) == "" || strings.ToLower(apiKey) == "none" {
		return
	}
	switch kind {
	case model.ProviderAzureOpenAI:
		client.SetHeader("api-key", apiKey)
	case model.ProviderAnthropic:
		client.SetHeader("X-API-Key", apiKey)
		client.SetHeader("Anthropic-Version", "2023-06-01")
	default:
		client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
}

// classifyStatus maps an HTTP error status to the resilience error classes:
// 429 and 5xx are transient, everything else 4xx is permanent.
func classifyStatus(descriptor model.ModelDescriptor, status int, body string) *model.ProviderError {
	err := fmt.Errorf("provider response %d: %s", status, body)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return model.NewTransientError(descriptor.ID, descriptor.Provider, status, err)
	}
	return model.NewPermanentError(descriptor.ID, descriptor.Provider, status, err)
}

func normalizeBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}
