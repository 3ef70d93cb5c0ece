// Package dto provides data transfer objects for HTTP requests/responses
package dto

import (
	"ultra-server/services/orchestrator-api/internal/domain/orchestration"
)

// OrchestrateRequest is the body of POST /v1/orchestrate and its streaming
// variant.
type OrchestrateRequest struct {
	Prompt         string   `json:"prompt" binding:"required"`
	Models         []string `json:"models,omitempty"`
	LeadModel      string   `json:"lead_model,omitempty"`
	Strategy       string   `json:"strategy,omitempty"`
	Temperature    float32  `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	PartialResults bool     `json:"partial_results,omitempty"`
}

// Response is a generic API response wrapper
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo holds error information
type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// OrchestrateResponse wraps a finished pipeline run.
type OrchestrateResponse struct {
	Result *orchestration.PipelineResult `json:"result"`
}
