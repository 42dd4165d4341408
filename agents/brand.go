package agents

import (
	"context"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

const brandSystem = "You are a brand analyst. From what is known about the business, " +
	"characterize its brand voice, its unique selling points, its competitors, and the " +
	"campaign objective. Confirm your read with the user rather than interrogating them."

// BrandAnalyzer derives the brand profile from the discovery facts and the
// user's own words.
type BrandAnalyzer struct {
	llm services.LLMService
}

// NewBrandAnalyzer builds the brand analysis agent.
func NewBrandAnalyzer(llm services.LLMService) *BrandAnalyzer { return &BrandAnalyzer{llm: llm} }

func (b *BrandAnalyzer) Stage() core.Stage { return core.StageBrandAnalysis }

func (b *BrandAnalyzer) Process(ctx context.Context, in *Input) (*Result, error) {
	system := brandSystem + deltaInstructions(
		"brand_voice", "unique_selling_points", "competitors", "objective",
	)
	reply, err := b.llm.Complete(ctx, buildPrompt(in), services.CompleteOptions{
		System:      system,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	message, delta, complete := parseModelOutput(reply)
	done := has(in.Context, delta, core.SlotBrandVoice) &&
		has(in.Context, delta, core.SlotObjective)

	res := &Result{
		Message:       message,
		Delta:         delta,
		StageComplete: complete && done,
	}
	if !done {
		res.Suggestions = []string{
			"Our tone is friendly and casual",
			"We want more brand awareness",
			"We want to drive sales",
		}
	}
	return res, nil
}
