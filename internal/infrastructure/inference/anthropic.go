package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"ultra-server/services/orchestrator-api/internal/domain/model"
)

// anthropicAdapter talks to the native Anthropic messages endpoint.
type anthropicAdapter struct {
	descriptor model.ModelDescriptor
	client     *resty.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

const anthropicDefaultMaxTokens = 4096

func newAnthropicAdapter(descriptor model.ModelDescriptor, client *resty.Client, apiKey string) *anthropicAdapter {
	client.SetBaseURL(normalizeBaseURL(descriptor.BaseURL))
	setAuthHeaders(client, model.ProviderAnthropic, apiKey)
	return &anthropicAdapter{descriptor: descriptor, client: client}
}

func (a *anthropicAdapter) Name() string { return a.descriptor.ID }

func (a *anthropicAdapter) Capabilities() model.Capabilities { return a.descriptor.Capabilities }

func (a *anthropicAdapter) Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// the messages API rejects requests without max_tokens
		maxTokens = anthropicDefaultMaxTokens
	}

	body := anthropicRequest{
		Model:     a.descriptor.UpstreamName,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}

	var respBody anthropicResponse
	start := time.Now()
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&respBody).
		Post("/messages")
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, classifyStatus(a.descriptor, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var text strings.Builder
	for _, block := range respBody.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, model.NewTransientError(a.descriptor.ID, a.descriptor.Provider, resp.StatusCode(),
			fmt.Errorf("provider returned no text content"))
	}

	return &model.GenerateResponse{
		Text:             text.String(),
		PromptTokens:     respBody.Usage.InputTokens,
		CompletionTokens: respBody.Usage.OutputTokens,
		Latency:          latency,
	}, nil
}

func (a *anthropicAdapter) TestConnection(ctx context.Context) error {
	// Anthropic has no cheap list endpoint; a minimal message with
	// max_tokens=1 doubles as the reachability probe.
	body := anthropicRequest{
		Model:     a.descriptor.UpstreamName,
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/messages")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return classifyStatus(a.descriptor, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
