package orchestration

// PipelineEventType enumerates the streaming event sequence:
// stage_started, model_completed (per model), stage_completed, optional
// synthesis_chunk, then pipeline_complete or error.
type PipelineEventType string

const (
	EventStageStarted     PipelineEventType = "stage_started"
	EventModelCompleted   PipelineEventType = "model_completed"
	EventStageCompleted   PipelineEventType = "stage_completed"
	EventSynthesisChunk   PipelineEventType = "synthesis_chunk"
	EventPipelineComplete PipelineEventType = "pipeline_complete"
	EventError            PipelineEventType = "error"
)

// PipelineEvent is one element of the orchestrator's streaming sequence.
// Transport-specific delivery (SSE, websockets) is the caller's concern.
type PipelineEvent struct {
	Type          PipelineEventType `json:"type"`
	Stage         Stage             `json:"stage,omitempty"`
	ModelID       string            `json:"model,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	LatencyMS     int64             `json:"latency_ms,omitempty"`
	Text          string            `json:"text,omitempty"`
	Error         string            `json:"error,omitempty"`

	// Result is attached to the terminal pipeline_complete event.
	Result *PipelineResult `json:"result,omitempty"`
}
