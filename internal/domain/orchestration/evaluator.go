package orchestration

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/domain/model"
)

// QualityScore holds the evaluator dimensions, each in [0, 1].
type QualityScore struct {
	Coherence      float64 `json:"coherence"`
	TechnicalDepth float64 `json:"technical_depth"`
	StrategicValue float64 `json:"strategic_value"`
	Uniqueness     float64 `json:"uniqueness"`
}

// Overall is the mean of the four dimensions.
func (s QualityScore) Overall() float64 {
	return (s.Coherence + s.TechnicalDepth + s.StrategicValue + s.Uniqueness) / 4
}

// Evaluator scores one model's output against the prompt that produced it.
// Scoring must never fail the pipeline: implementations return a neutral
// score rather than an error when they cannot judge.
type Evaluator interface {
	Score(ctx context.Context, prompt, text string) QualityScore
}

// NeutralScore is used when an evaluator cannot judge an output.
func NeutralScore() QualityScore {
	return QualityScore{Coherence: 0.5, TechnicalDepth: 0.5, StrategicValue: 0.5, Uniqueness: 0.5}
}

// HeuristicEvaluator scores without any provider call, using cheap text
// statistics. It is the default evaluator and the fallback when the
// model-backed one fails.
type HeuristicEvaluator struct{}

func (HeuristicEvaluator) Score(_ context.Context, _ string, text string) QualityScore {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return QualityScore{}
	}

	words := strings.Fields(trimmed)
	wordCount := float64(len(words))
	lines := strings.Split(trimmed, "\n")

	// Length saturates around 300 words.
	depth := clamp01(wordCount / 300)

	// Structure: paragraphs, lists and headings read as organized writing.
	structured := 0
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if l == "" || strings.HasPrefix(l, "-") || strings.HasPrefix(l, "*") ||
			strings.HasPrefix(l, "#") || strings.HasPrefix(l, "1.") {
			structured++
		}
	}
	coherence := clamp01(0.4 + float64(structured)/math.Max(float64(len(lines)), 1))

	// Vocabulary diversity as a uniqueness proxy.
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))] = struct{}{}
	}
	uniqueness := clamp01(float64(len(seen)) / math.Max(wordCount, 1) * 1.5)

	strategic := clamp01((depth + coherence) / 2)

	return QualityScore{
		Coherence:      coherence,
		TechnicalDepth: depth,
		StrategicValue: strategic,
		Uniqueness:     uniqueness,
	}
}

const evaluatorSystemPrompt = "You are a strict quality evaluator. Respond with a single JSON object " +
	`{"coherence":x,"technical_depth":x,"strategic_value":x,"uniqueness":x} ` +
	"where each x is a number between 0 and 1. No other text."

// ModelEvaluator scores with a secondary provider call. Any failure along
// the way, including unparseable output, degrades to the neutral score so
// evaluation never blocks synthesis.
type ModelEvaluator struct {
	adapter model.ProviderAdapter
	log     zerolog.Logger
}

func NewModelEvaluator(adapter model.ProviderAdapter, log zerolog.Logger) *ModelEvaluator {
	return &ModelEvaluator{
		adapter: adapter,
		log:     log.With().Str("component", "model_evaluator").Logger(),
	}
}

func (e *ModelEvaluator) Score(ctx context.Context, prompt, text string) QualityScore {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nAnswer to evaluate:\n")
	b.WriteString(text)

	resp, err := e.adapter.Generate(ctx, model.GenerateRequest{
		Prompt:       b.String(),
		SystemPrompt: evaluatorSystemPrompt,
		MaxTokens:    256,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("evaluator call failed, using neutral score")
		return NeutralScore()
	}

	score, ok := parseScore(resp.Text)
	if !ok {
		e.log.Warn().Str("raw", truncate(resp.Text, 200)).Msg("evaluator output unparseable, using neutral score")
		return NeutralScore()
	}
	return score
}

// parseScore extracts the first JSON object from raw model output; models
// often wrap JSON in prose or code fences.
func parseScore(raw string) (QualityScore, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return QualityScore{}, false
	}
	var s QualityScore
	if err := json.Unmarshal([]byte(raw[start:end+1]), &s); err != nil {
		return QualityScore{}, false
	}
	s.Coherence = clamp01(s.Coherence)
	s.TechnicalDepth = clamp01(s.TechnicalDepth)
	s.StrategicValue = clamp01(s.StrategicValue)
	s.Uniqueness = clamp01(s.Uniqueness)
	return s, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate shortens s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
