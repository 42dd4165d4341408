package agents

import (
	"context"
	"regexp"
	"strings"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

const discoverySystem = "You are a marketing discovery consultant. Learn what the business is " +
	"and who it serves. Ask at most two focused questions per reply. Be warm and concrete."

// industryKeywords is a cheap first pass over the user's own words. The model
// still confirms, but obvious matches fill slots without a round trip.
var industryKeywords = map[string][]string{
	"food_and_beverage": {"restaurant", "cafe", "coffee", "bakery", "bar", "food", "catering"},
	"retail":            {"shop", "store", "boutique", "retail", "ecommerce", "e-commerce"},
	"fitness":           {"gym", "fitness", "yoga", "training", "wellness"},
	"technology":        {"app", "software", "saas", "startup", "platform", "tech"},
	"beauty":            {"salon", "spa", "beauty", "cosmetics", "skincare"},
	"education":         {"school", "course", "tutoring", "education", "academy"},
	"real_estate":       {"real estate", "property", "realtor", "housing"},
}

var audiencePattern = regexp.MustCompile(`(?i)\b(?:target(?:ing)?|audience is|customers are)\s+([^.!?\n]{10,120})`)

// numbered replies and long messages tend to answer everything at once.
var comprehensivePattern = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*])\s+`)

// Discovery learns the business and its audience. Short replies go through
// the model; message text is also scanned directly so obvious facts are
// captured even when the model fails to emit a structured block.
type Discovery struct {
	llm services.LLMService
}

// NewDiscovery builds the discovery agent.
func NewDiscovery(llm services.LLMService) *Discovery { return &Discovery{llm: llm} }

func (d *Discovery) Stage() core.Stage { return core.StageDiscovery }

func (d *Discovery) Process(ctx context.Context, in *Input) (*Result, error) {
	system := discoverySystem + deltaInstructions(
		"business_description", "industry", "target_audience", "budget",
	)
	reply, err := d.llm.Complete(ctx, buildPrompt(in), services.CompleteOptions{
		System:      system,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	message, delta, complete := parseModelOutput(reply)
	d.extract(in.UserText, in.Context, delta)

	done := has(in.Context, delta, core.SlotBusinessDescription) &&
		has(in.Context, delta, core.SlotTargetAudience)

	res := &Result{
		Message:       message,
		Delta:         delta,
		StageComplete: complete && done,
	}
	if !done {
		res.Suggestions = []string{
			"We're a small local business",
			"Our customers are mostly young professionals",
		}
	}
	return res, nil
}

// extract fills slots straight from the user's message when the model did
// not. Never overwrites anything already present.
func (d *Discovery) extract(text string, cm *core.ContextModel, delta core.Delta) {
	lower := strings.ToLower(text)

	if !has(cm, delta, core.SlotIndustry) {
		for industry, words := range industryKeywords {
			for _, w := range words {
				if strings.Contains(lower, w) {
					delta[core.SlotIndustry] = core.TextValue(industry)
					break
				}
			}
			if _, ok := delta[core.SlotIndustry]; ok {
				break
			}
		}
	}

	if !has(cm, delta, core.SlotTargetAudience) {
		if m := audiencePattern.FindStringSubmatch(text); m != nil {
			delta[core.SlotTargetAudience] = core.TextValue(strings.TrimSpace(m[1]))
		}
	}

	// A long or structured message usually is the business description.
	if !has(cm, delta, core.SlotBusinessDescription) {
		if len(text) > 120 || comprehensivePattern.MatchString(text) {
			delta[core.SlotBusinessDescription] = core.TextValue(strings.TrimSpace(text))
		}
	}
}
