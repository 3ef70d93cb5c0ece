package orchestration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/infrastructure/metrics"
	"ultra-server/services/orchestrator-api/internal/infrastructure/observability"
	"ultra-server/services/orchestrator-api/internal/utils/httpclients"
)

// OrchestratorConfig carries the pipeline-level policy knobs.
type OrchestratorConfig struct {
	// MinimumModelsRequired is the stage-1 quorum. Stage 2 additionally
	// requires at least two usable outputs regardless of this value.
	MinimumModelsRequired int

	// RequiredProviders, when set, must all be represented among the models
	// that succeed in stage 1.
	RequiredProviders []string

	// DefaultLeadModel is preferred for synthesis when the request names no
	// lead, provided it survived the earlier stages.
	DefaultLeadModel string

	// ServiceName labels the tracing spans.
	ServiceName string
}

func (c OrchestratorConfig) minimumModels() int {
	if c.MinimumModelsRequired < 1 {
		return 2
	}
	return c.MinimumModelsRequired
}

// Orchestrator drives the multi-stage pipeline over the model registry.
type Orchestrator struct {
	registry  *model.Registry
	evaluator Evaluator
	strategy  PipelineStrategy
	cfg       OrchestratorConfig
	log       zerolog.Logger
}

func NewOrchestrator(registry *model.Registry, evaluator Evaluator, strategy PipelineStrategy, cfg OrchestratorConfig, log zerolog.Logger) *Orchestrator {
	if evaluator == nil {
		evaluator = HeuristicEvaluator{}
	}
	return &Orchestrator{
		registry:  registry,
		evaluator: evaluator,
		strategy:  strategy,
		cfg:       cfg,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// emitFunc receives pipeline events; a nil emitter is replaced by a no-op so
// the run path never nil-checks.
type emitFunc func(PipelineEvent)

// Execute runs the full pipeline and blocks until it finishes or fails.
// When the request asks for partial results, a failed run returns the
// accumulated result alongside the error.
func (o *Orchestrator) Execute(ctx context.Context, req RequestContext) (*PipelineResult, error) {
	return o.run(ctx, req, nil)
}

// ExecuteStream runs the pipeline in a goroutine and streams its events.
// The channel is closed after the terminal pipeline_complete or error event.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req RequestContext) <-chan PipelineEvent {
	events := make(chan PipelineEvent, 16)
	emit := func(ev PipelineEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(events)
		result, err := o.run(ctx, req, emit)
		if err != nil {
			ev := PipelineEvent{
				Type:          EventError,
				CorrelationID: correlationID(req, result),
				Error:         err.Error(),
			}
			if result != nil && result.Partial {
				ev.Result = result
			}
			emit(ev)
			return
		}
		emit(PipelineEvent{
			Type:          EventPipelineComplete,
			CorrelationID: result.CorrelationID,
			Result:        result,
		})
	}()
	return events
}

func correlationID(req RequestContext, result *PipelineResult) string {
	if result != nil && result.CorrelationID != "" {
		return result.CorrelationID
	}
	return req.CorrelationID
}

// participant is one resolved model for the duration of a run.
type participant struct {
	descriptor model.ModelDescriptor
	adapter    model.ResilientAdapter
}

func (o *Orchestrator) run(ctx context.Context, req RequestContext, emit emitFunc) (*PipelineResult, error) {
	if emit == nil {
		emit = func(PipelineEvent) {}
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	ctx, span := observability.StartSpan(ctx, o.cfg.ServiceName, "pipeline.execute")
	defer span.End()
	observability.AddSpanAttributes(ctx,
		attribute.String("correlation_id", req.CorrelationID),
		attribute.String("strategy", o.strategy.Name),
		attribute.Int("models_requested", len(req.ModelIDs)),
	)

	start := time.Now()
	result := &PipelineResult{
		CorrelationID: req.CorrelationID,
		State:         StateInitial,
	}
	logCtx := o.log.With().Str("correlation_id", req.CorrelationID)
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		logCtx = logCtx.Str("trace_id", traceID)
	}
	log := logCtx.Logger()

	fail := func(err error) (*PipelineResult, error) {
		result.State = StateFailed
		result.TotalDuration = time.Since(start)
		observability.RecordError(ctx, err)
		outcome := "failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		metrics.RecordPipeline(outcome)
		log.Error().Err(err).Str("outcome", outcome).Msg("pipeline failed")
		if req.Options.PartialResults && len(result.Stages) > 0 {
			result.Partial = true
			return result, err
		}
		return nil, err
	}

	participants, missing := o.resolve(req.ModelIDs)
	if len(participants) < o.cfg.minimumModels() {
		return fail(&InsufficientModelsError{
			CorrelationID:    req.CorrelationID,
			Stage:            o.strategy.InitialStage,
			ModelsRequired:   o.cfg.minimumModels(),
			ModelsAvailable:  len(participants),
			ProvidersPresent: providerNames(participants),
			ProvidersMissing: missing,
		})
	}

	// Stage 1: every participant answers the prompt independently.
	initialTasks := make([]generateTask, 0, len(participants))
	for _, p := range participants {
		initialTasks = append(initialTasks, generateTask{participant: p, prompt: req.Prompt})
	}
	initial := o.fanOut(ctx, req, o.strategy.InitialStage, o.strategy.InitialSystemPrompt, initialTasks, emit)
	result.Stages = append(result.Stages, initial)

	// Cancellation is reported as such, not as a quorum failure, even though
	// it empties the survivor set.
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	survivors := o.survivors(participants, initial)
	if err := o.checkQuorum(req, o.strategy.InitialStage, participants, survivors); err != nil {
		return fail(err)
	}
	result.State = StatePeerReview

	// Stage 2: each survivor revises its draft against the peers' drafts.
	// A failed revision falls back to the model's own stage-1 text so one
	// flaky call does not eject the model from synthesis input.
	drafts := draftsOf(initial, survivors)
	reviewTasks := make([]generateTask, 0, len(survivors))
	for _, p := range survivors {
		own := initial.Outputs[p.descriptor.ID].Text
		reviewTasks = append(reviewTasks, generateTask{
			participant: p,
			prompt:      o.strategy.ReviewPrompt(req.Prompt, own, peersOf(drafts, p.descriptor.ID)),
			fallback:    own,
		})
	}
	review := o.fanOut(ctx, req, o.strategy.ReviewStage, o.strategy.ReviewSystemPrompt, reviewTasks, emit)
	result.Stages = append(result.Stages, review)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	reviewed := o.survivors(survivors, review)
	if len(reviewed) < 2 {
		return fail(&InsufficientModelsError{
			CorrelationID:    req.CorrelationID,
			Stage:            o.strategy.ReviewStage,
			ModelsRequired:   2,
			ModelsAvailable:  len(reviewed),
			ProvidersPresent: providerNames(reviewed),
		})
	}
	result.State = StateSynthesis

	// Stage 3: the lead model combines the reviewed drafts; one fallback
	// candidate gets a single attempt if the lead fails.
	lead, fallbackCandidate := o.selectLead(ctx, req, review, reviewed)
	synthesis, synthErr := o.synthesize(ctx, req, review, reviewed, lead, fallbackCandidate, emit)
	result.Stages = append(result.Stages, synthesis.stageResult)
	if synthErr != nil {
		return fail(synthErr)
	}

	result.State = StateDone
	result.FinalText = synthesis.text
	result.SynthesisModelID = synthesis.modelID
	result.ModelsUsed = idsOf(reviewed)
	result.TotalDuration = time.Since(start)
	metrics.RecordPipeline("done")
	log.Info().
		Str("synthesis_model", synthesis.modelID).
		Int("models_used", len(result.ModelsUsed)).
		Dur("duration", result.TotalDuration).
		Msg("pipeline complete")
	return result, nil
}

// resolve maps requested ids to registry entries. An empty request means
// every registered model. Unknown ids are skipped and logged.
func (o *Orchestrator) resolve(ids []string) (participants []participant, missingProviders []string) {
	if len(ids) == 0 {
		for _, d := range o.registry.List(model.DescriptorFilter{}) {
			ids = append(ids, d.ID)
		}
	}
	for _, id := range ids {
		descriptor, err := o.registry.Descriptor(id)
		if err != nil {
			o.log.Warn().Str("model_id", id).Msg("requested model not registered, skipping")
			continue
		}
		adapter, err := o.registry.Get(id)
		if err != nil {
			continue
		}
		participants = append(participants, participant{descriptor: descriptor, adapter: adapter})
	}
	present := make(map[string]bool, len(participants))
	for _, p := range participants {
		present[string(p.descriptor.Provider)] = true
	}
	for _, required := range o.cfg.RequiredProviders {
		if !present[required] {
			missingProviders = append(missingProviders, required)
		}
	}
	sort.Strings(missingProviders)
	return participants, missingProviders
}

type generateTask struct {
	participant participant
	prompt      string

	// fallback, when non-empty, substitutes for a failed call and marks the
	// output as FellBack.
	fallback string
}

// fanOut issues every task concurrently and gathers a StageResult. It is the
// stage boundary: it returns only after every goroutine has reported.
func (o *Orchestrator) fanOut(ctx context.Context, req RequestContext, stage Stage, systemPrompt string, tasks []generateTask, emit emitFunc) StageResult {
	ctx, span := observability.StartSpan(ctx, o.cfg.ServiceName, "pipeline.stage."+string(stage))
	defer span.End()

	emit(PipelineEvent{Type: EventStageStarted, Stage: stage, CorrelationID: req.CorrelationID})

	result := StageResult{
		Stage:     stage,
		Outputs:   make(map[string]ModelOutput, len(tasks)),
		StartedAt: time.Now().UTC(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, task := range tasks {
		wg.Add(1)
		go func(task generateTask) {
			defer wg.Done()
			out := o.generateOne(ctx, req, task, systemPrompt)

			mu.Lock()
			result.Outputs[out.ModelID] = out
			mu.Unlock()

			emit(PipelineEvent{
				Type:          EventModelCompleted,
				Stage:         stage,
				ModelID:       out.ModelID,
				Provider:      out.Provider,
				CorrelationID: req.CorrelationID,
				LatencyMS:     out.Latency.Milliseconds(),
				Error:         out.Error,
			})
		}(task)
	}
	wg.Wait()

	result.Duration = time.Since(result.StartedAt)
	metrics.RecordStageDuration(string(stage), result.Duration.Seconds())
	observability.AddSpanEvent(ctx, "stage_completed",
		attribute.String("stage", string(stage)),
		attribute.Int("models", len(tasks)),
		attribute.Int("succeeded", len(result.SucceededModels())),
	)
	emit(PipelineEvent{
		Type:          EventStageCompleted,
		Stage:         stage,
		CorrelationID: req.CorrelationID,
		LatencyMS:     result.Duration.Milliseconds(),
	})
	return result
}

func (o *Orchestrator) generateOne(ctx context.Context, req RequestContext, task generateTask, systemPrompt string) ModelOutput {
	p := task.participant
	out := ModelOutput{
		ModelID:  p.descriptor.ID,
		Provider: string(p.descriptor.Provider),
	}

	started := time.Now()
	callCtx := httpclients.WithCorrelationID(ctx, req.CorrelationID)
	resp, err := p.adapter.Generate(callCtx, model.GenerateRequest{
		Prompt:       task.prompt,
		SystemPrompt: systemPrompt,
		Temperature:  req.Options.Temperature,
		MaxTokens:    req.Options.MaxTokens,
	})
	out.Latency = time.Since(started)

	if err != nil {
		out.Error = err.Error()
		if task.fallback != "" && ctx.Err() == nil {
			out.Text = task.fallback
			out.Error = ""
			out.FellBack = true
			o.log.Warn().
				Str("correlation_id", req.CorrelationID).
				Str("model_id", p.descriptor.ID).
				Err(err).
				Msg("revision call failed, reusing prior draft")
		}
		return out
	}

	out.Text = resp.Text
	out.PromptTokens = resp.PromptTokens
	out.CompletionTokens = resp.CompletionTokens
	return out
}

// survivors filters the participant set down to those with usable output in
// the stage, preserving participant order.
func (o *Orchestrator) survivors(from []participant, stage StageResult) []participant {
	kept := make([]participant, 0, len(from))
	for _, p := range from {
		if out, ok := stage.Outputs[p.descriptor.ID]; ok && out.Succeeded() {
			kept = append(kept, p)
		}
	}
	return kept
}

func (o *Orchestrator) checkQuorum(req RequestContext, stage Stage, all, survivors []participant) error {
	present := make(map[string]bool, len(survivors))
	for _, p := range survivors {
		present[string(p.descriptor.Provider)] = true
	}

	var missing []string
	for _, required := range o.cfg.RequiredProviders {
		if !present[required] {
			missing = append(missing, required)
		}
	}
	sort.Strings(missing)

	if len(survivors) >= o.cfg.minimumModels() && len(missing) == 0 {
		return nil
	}
	return &InsufficientModelsError{
		CorrelationID:    req.CorrelationID,
		Stage:            stage,
		ModelsRequired:   o.cfg.minimumModels(),
		ModelsAvailable:  len(survivors),
		ProvidersPresent: providerNames(survivors),
		ProvidersMissing: missing,
	}
}

// selectLead picks the synthesis lead and one fallback candidate. Preference
// order for the lead: the request's choice, then the configured default,
// then the best-scoring survivor. The fallback is the best-scoring survivor
// other than the lead.
func (o *Orchestrator) selectLead(ctx context.Context, req RequestContext, review StageResult, reviewed []participant) (lead, fallback participant) {
	scores := make(map[string]float64, len(reviewed))
	for _, p := range reviewed {
		out := review.Outputs[p.descriptor.ID]
		scores[p.descriptor.ID] = o.evaluator.Score(ctx, req.Prompt, out.Text).Overall()
	}

	byScore := make([]participant, len(reviewed))
	copy(byScore, reviewed)
	sort.SliceStable(byScore, func(i, j int) bool {
		si, sj := scores[byScore[i].descriptor.ID], scores[byScore[j].descriptor.ID]
		if si != sj {
			return si > sj
		}
		return byScore[i].descriptor.ID < byScore[j].descriptor.ID
	})

	lead = byScore[0]
	if p, ok := findParticipant(reviewed, o.cfg.DefaultLeadModel); ok {
		lead = p
	}
	if p, ok := findParticipant(reviewed, req.LeadModelID); ok {
		lead = p
	}

	for _, p := range byScore {
		if p.descriptor.ID != lead.descriptor.ID {
			return lead, p
		}
	}
	return lead, participant{}
}

type synthesisOutcome struct {
	stageResult StageResult
	text        string
	modelID     string
}

func (o *Orchestrator) synthesize(ctx context.Context, req RequestContext, review StageResult, reviewed []participant, lead, fallback participant, emit emitFunc) (synthesisOutcome, error) {
	drafts := draftsOf(review, reviewed)
	prompt := o.strategy.SynthesisPrompt(req.Prompt, drafts)

	tasks := []generateTask{{participant: lead, prompt: prompt}}
	stage := o.fanOut(ctx, req, o.strategy.SynthesisStage, o.strategy.SynthesisSystemPrompt, tasks, emit)

	leadOut := stage.Outputs[lead.descriptor.ID]
	if leadOut.Succeeded() {
		emitSynthesisText(emit, req, o.strategy.SynthesisStage, leadOut)
		return synthesisOutcome{stageResult: stage, text: leadOut.Text, modelID: lead.descriptor.ID}, nil
	}

	synthErr := &SynthesisFailureError{
		CorrelationID: req.CorrelationID,
		LeadModelID:   lead.descriptor.ID,
		LeadErr:       errors.New(leadOut.Error),
	}
	if fallback.descriptor.ID == "" || ctx.Err() != nil {
		return synthesisOutcome{stageResult: stage}, synthErr
	}

	// Single fallback attempt; its output is folded into the same stage record.
	retry := o.generateOne(ctx, req, generateTask{participant: fallback, prompt: prompt}, o.strategy.SynthesisSystemPrompt)
	stage.Outputs[retry.ModelID] = retry
	emit(PipelineEvent{
		Type:          EventModelCompleted,
		Stage:         o.strategy.SynthesisStage,
		ModelID:       retry.ModelID,
		Provider:      retry.Provider,
		CorrelationID: req.CorrelationID,
		LatencyMS:     retry.Latency.Milliseconds(),
		Error:         retry.Error,
	})
	if retry.Succeeded() {
		emitSynthesisText(emit, req, o.strategy.SynthesisStage, retry)
		return synthesisOutcome{stageResult: stage, text: retry.Text, modelID: retry.ModelID}, nil
	}

	synthErr.FallbackModelID = fallback.descriptor.ID
	synthErr.FallbackErr = errors.New(retry.Error)
	return synthesisOutcome{stageResult: stage}, synthErr
}

func emitSynthesisText(emit emitFunc, req RequestContext, stage Stage, out ModelOutput) {
	emit(PipelineEvent{
		Type:          EventSynthesisChunk,
		Stage:         stage,
		ModelID:       out.ModelID,
		Provider:      out.Provider,
		CorrelationID: req.CorrelationID,
		Text:          out.Text,
	})
}

func draftsOf(stage StageResult, from []participant) []PeerDraft {
	drafts := make([]PeerDraft, 0, len(from))
	for _, p := range from {
		if out, ok := stage.Outputs[p.descriptor.ID]; ok && out.Succeeded() {
			drafts = append(drafts, PeerDraft{ModelID: p.descriptor.ID, Text: out.Text})
		}
	}
	return drafts
}

func peersOf(drafts []PeerDraft, excludeID string) []PeerDraft {
	peers := make([]PeerDraft, 0, len(drafts))
	for _, d := range drafts {
		if d.ModelID != excludeID {
			peers = append(peers, d)
		}
	}
	return peers
}

func findParticipant(participants []participant, id string) (participant, bool) {
	if id == "" {
		return participant{}, false
	}
	for _, p := range participants {
		if p.descriptor.ID == id {
			return p, true
		}
	}
	return participant{}, false
}

func providerNames(participants []participant) []string {
	seen := make(map[string]bool, len(participants))
	var names []string
	for _, p := range participants {
		name := string(p.descriptor.Provider)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func idsOf(participants []participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.descriptor.ID)
	}
	sort.Strings(ids)
	return ids
}
