package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/domain/model"
)

func TestHeuristicEvaluatorEmptyText(t *testing.T) {
	score := HeuristicEvaluator{}.Score(context.Background(), "q", "   ")
	if score.Overall() != 0 {
		t.Fatalf("overall = %v, want 0 for empty text", score.Overall())
	}
}

func TestHeuristicEvaluatorRanksSubstanceOverStub(t *testing.T) {
	short := "yes"
	long := `The tradeoff has three parts.

- Latency: batching amortizes connection setup but delays the first result.
- Throughput: larger batches keep the pipeline saturated under load.
- Memory: every in-flight batch is buffered until the slowest member finishes.

For interactive workloads prefer small batches with a short linger window.`

	eval := HeuristicEvaluator{}
	shortScore := eval.Score(context.Background(), "q", short)
	longScore := eval.Score(context.Background(), "q", long)

	if longScore.Overall() <= shortScore.Overall() {
		t.Fatalf("structured answer scored %v, stub scored %v", longScore.Overall(), shortScore.Overall())
	}
	for _, v := range []float64{longScore.Coherence, longScore.TechnicalDepth, longScore.StrategicValue, longScore.Uniqueness} {
		if v < 0 || v > 1 {
			t.Fatalf("dimension out of range: %+v", longScore)
		}
	}
}

func TestModelEvaluatorParsesScores(t *testing.T) {
	adapter := &fakeAdapter{id: "judge"}
	adapter.generate = func(context.Context, model.GenerateRequest) (*model.GenerateResponse, error) {
		return &model.GenerateResponse{
			Text: "Here is my verdict:\n{\"coherence\":0.9,\"technical_depth\":0.7,\"strategic_value\":0.6,\"uniqueness\":0.8}",
		}, nil
	}

	score := NewModelEvaluator(adapter, zerolog.Nop()).Score(context.Background(), "q", "answer")
	if score.Coherence != 0.9 || score.TechnicalDepth != 0.7 {
		t.Fatalf("score = %+v, want parsed values", score)
	}
	if got, want := score.Overall(), (0.9+0.7+0.6+0.8)/4; got != want {
		t.Fatalf("overall = %v, want %v", got, want)
	}
}

func TestModelEvaluatorClampsOutOfRange(t *testing.T) {
	adapter := &fakeAdapter{id: "judge"}
	adapter.generate = func(context.Context, model.GenerateRequest) (*model.GenerateResponse, error) {
		return &model.GenerateResponse{
			Text: `{"coherence":1.4,"technical_depth":-0.2,"strategic_value":0.5,"uniqueness":0.5}`,
		}, nil
	}

	score := NewModelEvaluator(adapter, zerolog.Nop()).Score(context.Background(), "q", "answer")
	if score.Coherence != 1 || score.TechnicalDepth != 0 {
		t.Fatalf("score = %+v, want clamped to [0,1]", score)
	}
}

func TestModelEvaluatorNeutralOnFailure(t *testing.T) {
	cases := map[string]func(context.Context, model.GenerateRequest) (*model.GenerateResponse, error){
		"call error": func(context.Context, model.GenerateRequest) (*model.GenerateResponse, error) {
			return nil, errors.New("judge unavailable")
		},
		"no json": func(context.Context, model.GenerateRequest) (*model.GenerateResponse, error) {
			return &model.GenerateResponse{Text: "I refuse to answer in the requested format"}, nil
		},
		"broken json": func(context.Context, model.GenerateRequest) (*model.GenerateResponse, error) {
			return &model.GenerateResponse{Text: `{"coherence": "high"}`}, nil
		},
	}
	for name, generate := range cases {
		adapter := &fakeAdapter{id: "judge", generate: generate}
		score := NewModelEvaluator(adapter, zerolog.Nop()).Score(context.Background(), "q", "answer")
		if score != NeutralScore() {
			t.Fatalf("%s: score = %+v, want neutral", name, score)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := "score: ★★★★☆ überzeugend"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		if len(got) > n {
			t.Fatalf("truncate(%q, %d) = %q, longer than limit", s, n, got)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q, split a rune", s, n, got)
		}
	}
	if got := truncate("short", 200); got != "short" {
		t.Fatalf("truncate below limit altered string: %q", got)
	}
}

func TestStrategyByName(t *testing.T) {
	for _, name := range []string{"", "ultra_synthesis", "critique", "fact_check", " CRITIQUE "} {
		if _, ok := StrategyByName(name); !ok {
			t.Fatalf("strategy %q not resolved", name)
		}
	}
	if _, ok := StrategyByName("unknown"); ok {
		t.Fatal("unknown strategy resolved")
	}
}

func TestReviewPromptEmbedsPeersOnly(t *testing.T) {
	s := UltraSynthesisStrategy()
	prompt := s.ReviewPrompt("the question", "my draft", []PeerDraft{
		{ModelID: "model-b", Text: "peer answer b"},
		{ModelID: "model-c", Text: "peer answer c"},
	})
	for _, want := range []string{"the question", "my draft", "peer answer b", "peer answer c", "model-b", "model-c"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("review prompt missing %q", want)
		}
	}
}
