package agents

import (
	"context"
	"strings"

	"github.com/campaignkit/campaignkit/core"
)

const greetingWelcome = "Hi! I'm your campaign assistant. I'll walk you through building a " +
	"complete marketing campaign: we'll cover your business, your brand, strategy, and then " +
	"draft the content together. To start, tell me about the business you'd like to promote."

// Greeting opens the session. It welcomes the user, captures the initial
// campaign idea if one is offered, and hands off to discovery on the first
// real reply. It is fully deterministic; no model call is needed to say hello.
type Greeting struct{}

// NewGreeting builds the greeting agent.
func NewGreeting() *Greeting { return &Greeting{} }

func (g *Greeting) Stage() core.Stage { return core.StageGreeting }

func (g *Greeting) Process(_ context.Context, in *Input) (*Result, error) {
	text := strings.TrimSpace(in.UserText)
	if text == "" {
		return &Result{
			Message: greetingWelcome,
			Suggestions: []string{
				"I run a local business",
				"I'm launching a new product",
				"I need help with social media",
			},
		}, nil
	}

	// Any substantive reply moves us to discovery; keep what they said as
	// the seed idea.
	res := &Result{
		Message:       "Great, let's dig into that. Tell me more about your business and who you're trying to reach.",
		Delta:         core.Delta{core.SlotCampaignIdea: core.TextValue(text)},
		StageComplete: true,
	}
	return res, nil
}
