package agents

import (
	"context"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

const strategySystem = "You are a marketing strategy planner. Using the known business and " +
	"brand facts, propose a campaign strategy: a short strategy summary, three content " +
	"pillars, the key messages, and which platforms to publish on. Present it as a " +
	"recommendation the user can adjust."

// Strategist turns the accumulated facts into a campaign plan.
type Strategist struct {
	llm services.LLMService
}

// NewStrategist builds the strategy agent.
func NewStrategist(llm services.LLMService) *Strategist { return &Strategist{llm: llm} }

func (s *Strategist) Stage() core.Stage { return core.StageStrategy }

func (s *Strategist) Process(ctx context.Context, in *Input) (*Result, error) {
	system := strategySystem + deltaInstructions(
		"strategy_summary", "content_pillars", "key_messages", "platforms",
	)
	reply, err := s.llm.Complete(ctx, buildPrompt(in), services.CompleteOptions{
		System:      system,
		Temperature: 0.8,
	})
	if err != nil {
		return nil, err
	}

	message, delta, complete := parseModelOutput(reply)
	done := has(in.Context, delta, core.SlotContentPillars) &&
		has(in.Context, delta, core.SlotPlatforms)

	res := &Result{
		Message:       message,
		Delta:         delta,
		StageComplete: complete && done,
	}
	if !done {
		res.Suggestions = []string{
			"Focus on Instagram and TikTok",
			"We mainly use LinkedIn",
		}
	} else {
		res.Suggestions = []string{
			"Looks good, let's create content",
			"Adjust the content pillars",
		}
	}
	return res, nil
}
