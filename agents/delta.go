package agents

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/campaignkit/campaignkit/core"
)

// contextUpdate is the fenced YAML payload agents instruct the model to emit
// alongside its prose. Empty fields are simply absent from the delta.
type contextUpdate struct {
	CampaignIdea        string       `yaml:"campaign_idea"`
	BusinessDescription string       `yaml:"business_description"`
	Industry            string       `yaml:"industry"`
	TargetAudience      string       `yaml:"target_audience"`
	BrandVoice          string       `yaml:"brand_voice"`
	SellingPoints       []string     `yaml:"unique_selling_points"`
	Competitors         []string     `yaml:"competitors"`
	Objective           string       `yaml:"objective"`
	Platforms           []string     `yaml:"platforms"`
	Budget              string       `yaml:"budget"`
	StrategySummary     string       `yaml:"strategy_summary"`
	ContentPillars      []string     `yaml:"content_pillars"`
	KeyMessages         []string     `yaml:"key_messages"`
	Posts               []postUpdate `yaml:"posts"`
	StageComplete       bool         `yaml:"stage_complete"`
}

type postUpdate struct {
	Platform     string   `yaml:"platform"`
	Content      string   `yaml:"content"`
	Hashtags     []string `yaml:"hashtags"`
	CallToAction string   `yaml:"call_to_action"`
	ImagePrompt  string   `yaml:"image_prompt"`
}

// parseModelOutput splits a model reply into the user-facing message, the
// context delta, and the stage-complete signal. Malformed YAML blocks are
// skipped; a reply with no parseable block yields an empty delta.
func parseModelOutput(text string) (message string, delta core.Delta, complete bool) {
	delta = core.Delta{}
	blocks, cleaned := extractYAMLBlocks(text)
	for _, block := range blocks {
		var upd contextUpdate
		if err := yaml.Unmarshal([]byte(block), &upd); err != nil {
			continue
		}
		mergeUpdate(delta, upd)
		if upd.StageComplete {
			complete = true
		}
	}
	return strings.TrimSpace(cleaned), delta, complete
}

// extractYAMLBlocks pulls ```yaml fenced blocks out of text and returns the
// text with those blocks removed.
func extractYAMLBlocks(text string) (blocks []string, cleaned string) {
	var keep []string
	lines := strings.Split(text, "\n")
	var block []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && (trimmed == "```yaml" || trimmed == "```yml"):
			inBlock = true
			block = block[:0]
		case inBlock && trimmed == "```":
			inBlock = false
			blocks = append(blocks, strings.Join(block, "\n"))
		case inBlock:
			block = append(block, line)
		default:
			keep = append(keep, line)
		}
	}
	// An unterminated fence is treated as prose.
	if inBlock {
		keep = append(keep, "```yaml")
		keep = append(keep, block...)
	}
	return blocks, strings.Join(keep, "\n")
}

func mergeUpdate(delta core.Delta, upd contextUpdate) {
	setText := func(slot core.Slot, v string) {
		if v = strings.TrimSpace(v); v != "" {
			delta[slot] = core.TextValue(v)
		}
	}
	setList := func(slot core.Slot, v []string) {
		items := make([]string, 0, len(v))
		for _, it := range v {
			if it = strings.TrimSpace(it); it != "" {
				items = append(items, it)
			}
		}
		if len(items) > 0 {
			delta[slot] = core.ListValue(items...)
		}
	}

	setText(core.SlotCampaignIdea, upd.CampaignIdea)
	setText(core.SlotBusinessDescription, upd.BusinessDescription)
	setText(core.SlotIndustry, upd.Industry)
	setText(core.SlotTargetAudience, upd.TargetAudience)
	setText(core.SlotBrandVoice, upd.BrandVoice)
	setList(core.SlotSellingPoints, upd.SellingPoints)
	setList(core.SlotCompetitors, upd.Competitors)
	setText(core.SlotObjective, upd.Objective)
	setList(core.SlotPlatforms, normalizePlatforms(upd.Platforms))
	setText(core.SlotBudget, upd.Budget)
	setText(core.SlotStrategySummary, upd.StrategySummary)
	setList(core.SlotContentPillars, upd.ContentPillars)
	setList(core.SlotKeyMessages, upd.KeyMessages)

	if len(upd.Posts) > 0 {
		posts := make([]core.Post, 0, len(upd.Posts))
		for _, p := range upd.Posts {
			if strings.TrimSpace(p.Content) == "" {
				continue
			}
			posts = append(posts, core.Post{
				Platform:     strings.ToLower(strings.TrimSpace(p.Platform)),
				Content:      strings.TrimSpace(p.Content),
				Hashtags:     p.Hashtags,
				CallToAction: strings.TrimSpace(p.CallToAction),
				ImagePrompt:  strings.TrimSpace(p.ImagePrompt),
			})
		}
		if len(posts) > 0 {
			delta[core.SlotPosts] = core.PostsValue(posts)
		}
	}
}

func normalizePlatforms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(p)))
	}
	return out
}

// has reports whether the slot is filled either in the snapshot or in the
// delta the agent just produced.
func has(cm *core.ContextModel, delta core.Delta, slot core.Slot) bool {
	if _, ok := delta[slot]; ok {
		return true
	}
	return cm.Has(slot)
}
