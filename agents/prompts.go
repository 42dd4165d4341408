package agents

import (
	"fmt"
	"strings"

	"github.com/campaignkit/campaignkit/core"
)

// deltaInstructions tells the model how to report structured facts back.
// Limiting the listed keys per stage keeps models from reaching into slots
// they do not own.
func deltaInstructions(keys ...string) string {
	var b strings.Builder
	b.WriteString("\nWhen you learn any of the following, append a fenced ```yaml block ")
	b.WriteString("to your reply using exactly these keys:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  - %s\n", k)
	}
	b.WriteString("Set stage_complete: true in the block once you have everything this step needs.\n")
	return b.String()
}

// buildPrompt assembles the user-visible prompt for a stage call: known
// facts, the memory view, then the new message.
func buildPrompt(in *Input) string {
	var b strings.Builder
	if ctx := renderContext(in.Context); ctx != "" {
		b.WriteString("Known campaign facts:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	if h := in.Memory.Render(); h != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(in.UserText)
	return b.String()
}

// renderContext formats populated slots as prompt-friendly lines.
func renderContext(cm *core.ContextModel) string {
	if cm == nil || cm.Len() == 0 {
		return ""
	}
	var b strings.Builder
	line := func(label string, slot core.Slot) {
		if !cm.Has(slot) {
			return
		}
		if v, _ := cm.Get(slot); v.Kind == core.KindList {
			fmt.Fprintf(&b, "- %s: %s\n", label, strings.Join(v.List, ", "))
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", label, cm.Text(slot))
		}
	}
	line("campaign idea", core.SlotCampaignIdea)
	line("business", core.SlotBusinessDescription)
	line("industry", core.SlotIndustry)
	line("target audience", core.SlotTargetAudience)
	line("brand voice", core.SlotBrandVoice)
	line("selling points", core.SlotSellingPoints)
	line("competitors", core.SlotCompetitors)
	line("objective", core.SlotObjective)
	line("platforms", core.SlotPlatforms)
	line("budget", core.SlotBudget)
	line("strategy", core.SlotStrategySummary)
	line("content pillars", core.SlotContentPillars)
	line("key messages", core.SlotKeyMessages)
	line("known preferences", core.SlotPreferences)
	if posts := cm.Posts(core.SlotPosts); len(posts) > 0 {
		fmt.Fprintf(&b, "- drafted posts: %d\n", len(posts))
	}
	return b.String()
}

// renderPosts formats drafted posts for user display.
func renderPosts(posts []core.Post) string {
	var b strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, p.Platform, p.Content)
		if len(p.Hashtags) > 0 {
			fmt.Fprintf(&b, "   #%s\n", strings.Join(p.Hashtags, " #"))
		}
		if p.CallToAction != "" {
			fmt.Fprintf(&b, "   CTA: %s\n", p.CallToAction)
		}
		if p.ImageRef != "" {
			fmt.Fprintf(&b, "   image: %s\n", p.ImageRef)
		}
	}
	return b.String()
}
