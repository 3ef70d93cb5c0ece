package orchestration

import (
	"fmt"
	"sort"
	"strings"
)

// PeerDraft pairs a model id with the text it produced in the prior stage.
type PeerDraft struct {
	ModelID string
	Text    string
}

// ReviewPromptFunc builds the stage-2 prompt for one model from its own
// draft and every other surviving model's draft.
type ReviewPromptFunc func(originalPrompt, ownDraft string, peers []PeerDraft) string

// SynthesisPromptFunc builds the stage-3 prompt for the lead model from all
// peer-reviewed drafts.
type SynthesisPromptFunc func(originalPrompt string, drafts []PeerDraft) string

// PipelineStrategy is a named workflow template: stage names, per-stage
// system prompts and prompt builders. New workflows are added as data, not
// as orchestrator changes.
type PipelineStrategy struct {
	Name string

	InitialStage   Stage
	ReviewStage    Stage
	SynthesisStage Stage

	InitialSystemPrompt   string
	ReviewSystemPrompt    string
	SynthesisSystemPrompt string

	ReviewPrompt    ReviewPromptFunc
	SynthesisPrompt SynthesisPromptFunc
}

// UltraSynthesisStrategy is the default workflow: independent drafts, peer
// review with revision, and a single combined answer from the lead model.
func UltraSynthesisStrategy() PipelineStrategy {
	return PipelineStrategy{
		Name:           "ultra_synthesis",
		InitialStage:   StageInitial,
		ReviewStage:    StagePeerReview,
		SynthesisStage: StageSynthesis,

		InitialSystemPrompt:   "You are one of several expert assistants answering the same question independently. Give your best complete answer.",
		ReviewSystemPrompt:    "You are revising your own draft after reading your peers' answers. Keep what is right, fix what is wrong, add what is missing.",
		SynthesisSystemPrompt: "You are the lead editor. Combine the peer-reviewed answers into one final response that is more accurate and complete than any single answer.",

		ReviewPrompt: func(originalPrompt, ownDraft string, peers []PeerDraft) string {
			var b strings.Builder
			fmt.Fprintf(&b, "Original question:\n%s\n\n", originalPrompt)
			fmt.Fprintf(&b, "Your draft answer:\n%s\n\n", ownDraft)
			b.WriteString("Answers from the other models:\n\n")
			writeDrafts(&b, peers)
			b.WriteString("Revise your draft in light of the other answers. Return only the revised answer.")
			return b.String()
		},

		SynthesisPrompt: func(originalPrompt string, drafts []PeerDraft) string {
			var b strings.Builder
			fmt.Fprintf(&b, "Original question:\n%s\n\n", originalPrompt)
			b.WriteString("Peer-reviewed answers:\n\n")
			writeDrafts(&b, drafts)
			b.WriteString("Synthesize these into a single final answer. Resolve disagreements explicitly and do not mention the individual models.")
			return b.String()
		},
	}
}

// CritiqueStrategy asks each model to critique its peers rather than revise
// its own draft, and the lead to weigh the critiques.
func CritiqueStrategy() PipelineStrategy {
	s := UltraSynthesisStrategy()
	s.Name = "critique"
	s.ReviewStage = Stage("critique")
	s.ReviewSystemPrompt = "You are a critical reviewer. Identify concrete errors, omissions and unsupported claims in the answers you are shown."
	s.ReviewPrompt = func(originalPrompt, ownDraft string, peers []PeerDraft) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Original question:\n%s\n\n", originalPrompt)
		b.WriteString("Answers under review:\n\n")
		writeDrafts(&b, peers)
		b.WriteString("Write a concise critique of each answer, then state the strongest combined position.")
		return b.String()
	}
	s.SynthesisSystemPrompt = "You are the lead editor. Use the critiques to produce the most defensible final answer."
	return s
}

// FactCheckStrategy asks each model to verify factual claims in peer
// answers before the lead combines the verified material.
func FactCheckStrategy() PipelineStrategy {
	s := UltraSynthesisStrategy()
	s.Name = "fact_check"
	s.ReviewStage = Stage("fact_check")
	s.ReviewSystemPrompt = "You are a fact checker. Verify every factual claim in the answers you are shown and flag anything you cannot verify."
	s.ReviewPrompt = func(originalPrompt, ownDraft string, peers []PeerDraft) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Original question:\n%s\n\n", originalPrompt)
		b.WriteString("Answers to fact-check:\n\n")
		writeDrafts(&b, peers)
		b.WriteString("List the claims, mark each as verified, unverified or wrong, and rewrite your own answer using only verified material.")
		return b.String()
	}
	return s
}

// StrategyByName resolves a workflow template by its registered name.
func StrategyByName(name string) (PipelineStrategy, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ultra_synthesis":
		return UltraSynthesisStrategy(), true
	case "critique":
		return CritiqueStrategy(), true
	case "fact_check":
		return FactCheckStrategy(), true
	}
	return PipelineStrategy{}, false
}

// writeDrafts renders drafts sorted by model id so prompts are stable.
func writeDrafts(b *strings.Builder, drafts []PeerDraft) {
	sorted := make([]PeerDraft, len(drafts))
	copy(sorted, drafts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ModelID < sorted[j].ModelID })
	for i, d := range sorted {
		fmt.Fprintf(b, "--- Answer %d (%s) ---\n%s\n\n", i+1, d.ModelID, d.Text)
	}
}
