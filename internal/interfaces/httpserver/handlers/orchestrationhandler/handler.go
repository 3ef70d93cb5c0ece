package orchestrationhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/domain/orchestration"
	"ultra-server/services/orchestrator-api/internal/interfaces/httpserver/dto"
	"ultra-server/services/orchestrator-api/internal/interfaces/httpserver/middlewares"
)

// Handler exposes the pipeline over HTTP. It is a thin shim: request
// binding, error mapping and SSE delivery only; all semantics live in the
// orchestration package.
type Handler struct {
	registry  *model.Registry
	evaluator orchestration.Evaluator
	cfg       orchestration.OrchestratorConfig
	log       zerolog.Logger
}

func NewHandler(registry *model.Registry, evaluator orchestration.Evaluator, cfg orchestration.OrchestratorConfig, log zerolog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		evaluator: evaluator,
		cfg:       cfg,
		log:       log.With().Str("component", "orchestration_handler").Logger(),
	}
}

func (h *Handler) orchestratorFor(c *gin.Context, req dto.OrchestrateRequest) (*orchestration.Orchestrator, orchestration.RequestContext, bool) {
	strategy, ok := orchestration.StrategyByName(req.Strategy)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.Response{
			Success: false,
			Error:   &dto.ErrorInfo{Code: "unknown_strategy", Message: "unknown strategy: " + req.Strategy},
		})
		return nil, orchestration.RequestContext{}, false
	}

	orch := orchestration.NewOrchestrator(h.registry, h.evaluator, strategy, h.cfg, h.log)
	reqCtx := orchestration.RequestContext{
		CorrelationID: middlewares.RequestIDFromContext(c),
		Prompt:        req.Prompt,
		ModelIDs:      req.Models,
		LeadModelID:   req.LeadModel,
		Options: orchestration.GenerationOptions{
			Temperature:    req.Temperature,
			MaxTokens:      req.MaxTokens,
			PartialResults: req.PartialResults,
		},
	}
	return orch, reqCtx, true
}

// Orchestrate handles POST /v1/orchestrate.
func (h *Handler) Orchestrate(c *gin.Context) {
	var req dto.OrchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Response{
			Success: false,
			Error:   &dto.ErrorInfo{Code: "invalid_request", Message: err.Error()},
		})
		return
	}

	orch, reqCtx, ok := h.orchestratorFor(c, req)
	if !ok {
		return
	}

	result, err := orch.Execute(c.Request.Context(), reqCtx)
	if err != nil {
		status, info := mapPipelineError(err)
		if result != nil && result.Partial {
			info.Details = result
		}
		c.JSON(status, dto.Response{Success: false, Error: info})
		return
	}
	c.JSON(http.StatusOK, dto.Response{Success: true, Data: dto.OrchestrateResponse{Result: result}})
}

// OrchestrateStream handles POST /v1/orchestrate/stream as SSE.
func (h *Handler) OrchestrateStream(c *gin.Context) {
	var req dto.OrchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Response{
			Success: false,
			Error:   &dto.ErrorInfo{Code: "invalid_request", Message: err.Error()},
		})
		return
	}

	orch, reqCtx, ok := h.orchestratorFor(c, req)
	if !ok {
		return
	}

	if _, ok := middlewares.PrepareSSE(c); !ok {
		c.JSON(http.StatusInternalServerError, dto.Response{
			Success: false,
			Error:   &dto.ErrorInfo{Code: "streaming_unsupported", Message: "response writer does not support streaming"},
		})
		return
	}

	events := orch.ExecuteStream(c.Request.Context(), reqCtx)
	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			h.log.Error().Err(err).Msg("marshal pipeline event")
			continue
		}
		if err := writeSSEData(c, string(payload)); err != nil {
			// client went away; the pipeline winds down via request context
			h.log.Debug().Err(err).Msg("sse write failed")
			return
		}
	}
	_ = writeSSEData(c, "[DONE]")
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(c *gin.Context) {
	descriptors := h.registry.List(model.DescriptorFilter{})
	c.JSON(http.StatusOK, dto.Response{Success: true, Data: descriptors})
}

// Healthz handles GET /healthz with per-model circuit health.
func (h *Handler) Healthz(c *gin.Context) {
	snapshots := h.registry.HealthSnapshots()

	status := http.StatusOK
	healthy := 0
	for _, s := range snapshots {
		if s.CircuitState != model.CircuitOpen {
			healthy++
		}
	}
	if len(snapshots) > 0 && healthy == 0 {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":         statusLabel(status),
		"models_total":   len(snapshots),
		"models_healthy": healthy,
		"models":         snapshots,
	})
}

func statusLabel(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

func mapPipelineError(err error) (int, *dto.ErrorInfo) {
	var insufficient *orchestration.InsufficientModelsError
	if errors.As(err, &insufficient) {
		return http.StatusServiceUnavailable, &dto.ErrorInfo{
			Code:    "insufficient_models",
			Message: insufficient.Error(),
			Details: insufficient,
		}
	}

	var synthesis *orchestration.SynthesisFailureError
	if errors.As(err, &synthesis) {
		return http.StatusBadGateway, &dto.ErrorInfo{
			Code:    "synthesis_failed",
			Message: synthesis.Error(),
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 499, &dto.ErrorInfo{Code: "request_cancelled", Message: err.Error()}
	}

	return http.StatusInternalServerError, &dto.ErrorInfo{Code: "pipeline_failed", Message: err.Error()}
}

// writeSSEData writes an SSE data event to the response
func writeSSEData(c *gin.Context, data string) error {
	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte(data)); err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
