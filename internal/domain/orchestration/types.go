package orchestration

import (
	"time"
)

// Stage names the pipeline phases. Strategies may rename the phases they
// drive; these are the defaults for the ultra synthesis workflow.
type Stage string

const (
	StageInitial    Stage = "initial_response"
	StagePeerReview Stage = "peer_review"
	StageSynthesis  Stage = "ultra_synthesis"
)

// PipelineState is the orchestrator's state machine position.
type PipelineState string

const (
	StateInitial    PipelineState = "initial"
	StatePeerReview PipelineState = "peer_review"
	StateSynthesis  PipelineState = "synthesis"
	StateDone       PipelineState = "done"
	StateFailed     PipelineState = "failed"
)

// GenerationOptions are the caller's knobs for every provider call in the
// pipeline.
type GenerationOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// PartialResults asks for the stage results accumulated so far to be
	// returned alongside the error when the pipeline fails or is cancelled.
	PartialResults bool `json:"partial_results,omitempty"`
}

// RequestContext carries one orchestration request through all stages.
type RequestContext struct {
	CorrelationID string            `json:"correlation_id"`
	Prompt        string            `json:"prompt"`
	ModelIDs      []string          `json:"model_ids"`
	LeadModelID   string            `json:"lead_model_id,omitempty"`
	Options       GenerationOptions `json:"options"`
}

// ModelOutput is one model's contribution to a stage.
type ModelOutput struct {
	ModelID          string        `json:"model_id"`
	Provider         string        `json:"provider"`
	Text             string        `json:"text,omitempty"`
	Error            string        `json:"error,omitempty"`
	Latency          time.Duration `json:"latency_ms"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`

	// FellBack marks a peer-review output that reuses the model's
	// initial-stage text because the revision call failed.
	FellBack bool `json:"fell_back,omitempty"`
}

// Succeeded reports whether the model produced usable text.
func (o ModelOutput) Succeeded() bool {
	return o.Error == "" && o.Text != ""
}

// StageResult records one completed stage, outputs keyed by model id.
type StageResult struct {
	Stage     Stage                  `json:"stage"`
	Outputs   map[string]ModelOutput `json:"outputs"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"duration_ms"`
}

// SucceededModels returns the ids of models with usable output, sorted order
// not guaranteed.
func (r StageResult) SucceededModels() []string {
	ids := make([]string, 0, len(r.Outputs))
	for id, out := range r.Outputs {
		if out.Succeeded() {
			ids = append(ids, id)
		}
	}
	return ids
}

// PipelineResult is the aggregate outcome the orchestrator hands back.
type PipelineResult struct {
	CorrelationID    string        `json:"correlation_id"`
	State            PipelineState `json:"state"`
	Stages           []StageResult `json:"stages"`
	FinalText        string        `json:"final_text,omitempty"`
	SynthesisModelID string        `json:"synthesis_model_id,omitempty"`
	ModelsUsed       []string      `json:"models_used"`
	TotalDuration    time.Duration `json:"total_duration_ms"`
	Partial          bool          `json:"partial,omitempty"`
}

// StageNamed returns the recorded result for the named stage, if present.
func (r *PipelineResult) StageNamed(stage Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}
