package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

const reviewSystem = "You are a campaign review assistant. The campaign package is assembled. " +
	"Answer questions about it, take feedback, and ask whether the user wants to finalize " +
	"or refine a part."

var approvalPhrases = []string{
	"finalize", "finalise", "approve", "approved", "looks good",
	"looks great", "ship it", "i'm happy", "im happy", "all good",
}

// Reviewer walks the user through the assembled package. Approval completes
// the stage; requests to revisit an earlier stage are detected upstream by
// the orchestrator before this agent runs.
type Reviewer struct {
	llm services.LLMService
}

// NewReviewer builds the review agent.
func NewReviewer(llm services.LLMService) *Reviewer { return &Reviewer{llm: llm} }

func (r *Reviewer) Stage() core.Stage { return core.StageReview }

func (r *Reviewer) Process(ctx context.Context, in *Input) (*Result, error) {
	lower := strings.ToLower(in.UserText)
	for _, phrase := range approvalPhrases {
		if strings.Contains(lower, phrase) {
			return &Result{
				Message:       "Wonderful. Finalizing your campaign package now.",
				StageComplete: true,
			}, nil
		}
	}

	if strings.Contains(lower, "show") && strings.Contains(lower, "post") {
		posts := in.Context.Posts(core.SlotPosts)
		return &Result{
			Message:     "Here are your drafted posts:\n\n" + renderPosts(posts),
			Suggestions: reviewSuggestions(),
		}, nil
	}

	if strings.TrimSpace(in.UserText) == "" {
		return &Result{
			Message:     r.packageSummary(in.Context),
			Suggestions: reviewSuggestions(),
		}, nil
	}

	reply, err := r.llm.Complete(ctx, buildPrompt(in), services.CompleteOptions{
		System:      reviewSystem,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	message, _, _ := parseModelOutput(reply)
	return &Result{Message: message, Suggestions: reviewSuggestions()}, nil
}

func reviewSuggestions() []string {
	return []string{
		"Show me the posts",
		"Go back to strategy",
		"Go back to content creation",
		"Finalize the campaign",
	}
}

func (r *Reviewer) packageSummary(cm *core.ContextModel) string {
	var b strings.Builder
	b.WriteString("Here's your campaign package:\n\n")
	fmt.Fprintf(&b, "Strategy: %s\n", cm.Text(core.SlotStrategySummary))
	if pillars := cm.List(core.SlotContentPillars); len(pillars) > 0 {
		fmt.Fprintf(&b, "Content pillars: %s\n", strings.Join(pillars, ", "))
	}
	if platforms := cm.List(core.SlotPlatforms); len(platforms) > 0 {
		fmt.Fprintf(&b, "Platforms: %s\n", strings.Join(platforms, ", "))
	}
	fmt.Fprintf(&b, "Posts drafted: %d\n", len(cm.Posts(core.SlotPosts)))
	b.WriteString("\nShall I finalize it, or would you like to refine something first?")
	return b.String()
}
