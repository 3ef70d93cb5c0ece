package orchestrationhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/domain/orchestration"
	"ultra-server/services/orchestrator-api/internal/interfaces/httpserver/middlewares"
)

type stubAdapter struct {
	id   string
	text string
	err  error
}

func (s *stubAdapter) Name() string { return s.id }

func (s *stubAdapter) Generate(context.Context, model.GenerateRequest) (*model.GenerateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.GenerateResponse{Text: s.text}, nil
}

func (s *stubAdapter) TestConnection(context.Context) error { return nil }
func (s *stubAdapter) Capabilities() model.Capabilities     { return model.Capabilities{} }
func (s *stubAdapter) Health() model.HealthSnapshot {
	return model.HealthSnapshot{CircuitState: model.CircuitClosed}
}
func (s *stubAdapter) Metrics() model.AdapterMetrics { return model.AdapterMetrics{} }

func newTestRouter(t *testing.T, adapters ...*stubAdapter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := model.NewRegistry(zerolog.Nop())
	for _, a := range adapters {
		descriptor := model.ModelDescriptor{ID: a.id, Provider: model.ProviderOpenAI, UpstreamName: a.id}
		if err := registry.Register(descriptor, a); err != nil {
			t.Fatalf("register %s: %v", a.id, err)
		}
	}

	handler := NewHandler(registry, orchestration.HeuristicEvaluator{}, orchestration.OrchestratorConfig{
		MinimumModelsRequired: 2,
	}, zerolog.Nop())

	router := gin.New()
	router.Use(middlewares.RequestID())
	router.POST("/v1/orchestrate", handler.Orchestrate)
	router.POST("/v1/orchestrate/stream", handler.OrchestrateStream)
	router.GET("/v1/models", handler.ListModels)
	router.GET("/healthz", handler.Healthz)
	return router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOrchestrateEndToEnd(t *testing.T) {
	router := newTestRouter(t,
		&stubAdapter{id: "model-a", text: "answer from model a"},
		&stubAdapter{id: "model-b", text: "answer from model b"},
	)

	rec := postJSON(router, "/v1/orchestrate", `{"prompt":"what is up"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Result struct {
				State      string   `json:"state"`
				FinalText  string   `json:"final_text"`
				ModelsUsed []string `json:"models_used"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Data.Result.State != "done" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
	if resp.Data.Result.FinalText == "" {
		t.Fatal("final text empty")
	}
	if len(resp.Data.Result.ModelsUsed) != 2 {
		t.Fatalf("models used = %v", resp.Data.Result.ModelsUsed)
	}
}

func TestOrchestrateValidation(t *testing.T) {
	router := newTestRouter(t,
		&stubAdapter{id: "model-a", text: "a"},
		&stubAdapter{id: "model-b", text: "b"},
	)

	rec := postJSON(router, "/v1/orchestrate", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt: status = %d", rec.Code)
	}

	rec = postJSON(router, "/v1/orchestrate", `{"prompt":"q","strategy":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown strategy: status = %d", rec.Code)
	}
}

func TestOrchestrateInsufficientModels(t *testing.T) {
	router := newTestRouter(t,
		&stubAdapter{id: "model-a", text: "only answer"},
		&stubAdapter{id: "model-b", err: errors.New("down")},
	)

	rec := postJSON(router, "/v1/orchestrate", `{"prompt":"q"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "insufficient_models" {
		t.Fatalf("error code = %s", resp.Error.Code)
	}
}

func TestOrchestrateStreamSSE(t *testing.T) {
	router := newTestRouter(t,
		&stubAdapter{id: "model-a", text: "answer a"},
		&stubAdapter{id: "model-b", text: "answer b"},
	)

	rec := postJSON(router, "/v1/orchestrate/stream", `{"prompt":"q"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"stage_started"`) {
		t.Fatalf("no stage_started event in stream:\n%s", body)
	}
	if !strings.Contains(body, `"type":"pipeline_complete"`) {
		t.Fatalf("no pipeline_complete event in stream:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Fatalf("stream does not end with [DONE]:\n%s", body)
	}
}

func TestHealthzReportsModels(t *testing.T) {
	router := newTestRouter(t,
		&stubAdapter{id: "model-a", text: "a"},
		&stubAdapter{id: "model-b", text: "b"},
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Status        string `json:"status"`
		ModelsTotal   int    `json:"models_total"`
		ModelsHealthy int    `json:"models_healthy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.ModelsTotal != 2 || resp.ModelsHealthy != 2 {
		t.Fatalf("unexpected health payload: %s", rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	router := newTestRouter(t,
		&stubAdapter{id: "model-a", text: "a"},
		&stubAdapter{id: "model-b", text: "b"},
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].ID != "model-a" {
		t.Fatalf("unexpected models payload: %s", rec.Body.String())
	}
}
