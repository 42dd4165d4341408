package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedLLM is the demo-mode language model: a deterministic implementation
// that recognizes the stage it is being asked to play from the system prompt
// and answers with canned, well-formed output. It lets the full pipeline run
// offline with no credentials.
type ScriptedLLM struct {
	mu    sync.Mutex
	calls int
}

// NewScriptedLLM builds the demo model.
func NewScriptedLLM() *ScriptedLLM { return &ScriptedLLM{} }

// Calls returns how many completions have been served.
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *ScriptedLLM) Complete(_ context.Context, prompt string, opts CompleteOptions) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	system := strings.ToLower(opts.System)
	switch {
	case strings.Contains(system, "summarize"):
		return s.summary(prompt), nil
	case strings.Contains(system, "discovery consultant"):
		return discoveryScript, nil
	case strings.Contains(system, "brand analyst"):
		return brandScript, nil
	case strings.Contains(system, "strategy planner"):
		return strategyScript, nil
	case strings.Contains(system, "content creator"):
		return contentScript, nil
	case strings.Contains(system, "review assistant"):
		return reviewScript, nil
	default:
		return "Welcome! I'm your campaign assistant. Tell me about the business you'd like to promote.", nil
	}
}

func (s *ScriptedLLM) summary(prompt string) string {
	lines := strings.Count(prompt, "\n") + 1
	return fmt.Sprintf("The user and assistant discussed the campaign across %d lines of conversation, covering the business, its audience, and content direction.", lines)
}

const discoveryScript = `Great, a specialty coffee roastery! Let me capture what you've told me.

` + "```yaml" + `
business_description: Small-batch specialty coffee roastery with a subscription service
industry: food_and_beverage
target_audience: urban professionals aged 25-40 who care about coffee origin
stage_complete: true
` + "```"

const brandScript = `Your brand comes across as warm and craft-focused. Here's my read.

` + "```yaml" + `
brand_voice: warm, knowledgeable, craft-focused
unique_selling_points:
  - single-origin beans roasted weekly
  - carbon-neutral shipping
objective: grow subscription signups
stage_complete: true
` + "```"

const strategyScript = `Here's a strategy built around origin storytelling.

` + "```yaml" + `
strategy_summary: Position the roastery as the insider's source for traceable coffee, led by origin stories and brewing education.
content_pillars:
  - origin stories
  - brewing education
  - subscriber perks
key_messages:
  - every bag is traceable to a single farm
  - freshness you can taste
platforms:
  - instagram
  - linkedin
stage_complete: true
` + "```"

const contentScript = `Here are draft posts for your campaign.

` + "```yaml" + `
posts:
  - platform: instagram
    content: "Meet the farm behind your morning cup. This week's roast comes from the Huila highlands."
    hashtags: ["specialtycoffee", "singleorigin"]
    call_to_action: Subscribe for weekly roasts
    image_prompt: sunrise over a Colombian coffee farm, warm tones
  - platform: linkedin
    content: "Why traceability matters in coffee, and what it means for your office brew."
    hashtags: ["coffee", "sustainability"]
    call_to_action: Learn more
    image_prompt: flat lay of coffee beans and brewing gear, editorial style
stage_complete: true
` + "```"

const reviewScript = `Your campaign package is ready. Want me to finalize it, or would you like to refine any part?

` + "```yaml" + `
stage_complete: false
` + "```"

// StaticImage is the demo-mode image provider: it returns a stable
// placeholder reference without any network traffic.
type StaticImage struct{}

// NewStaticImage builds the demo provider.
func NewStaticImage() *StaticImage { return &StaticImage{} }

func (StaticImage) Generate(_ context.Context, req ImageRequest) (GeneratedImage, error) {
	w, h := PlatformSize(req.Platform)
	return GeneratedImage{
		URL:    fmt.Sprintf("demo://image/%s/%dx%d", strings.ReplaceAll(req.Platform, "/", "-"), w, h),
		Width:  w,
		Height: h,
	}, nil
}
