package orchestrator

import (
	"regexp"
	"strings"

	"github.com/campaignkit/campaignkit/core"
)

var refinePattern = regexp.MustCompile(`(?i)\b(?:go back to|revisit|redo|rework|change)\s+(?:the\s+)?([a-z _-]+)`)

// stageAliases maps the user's phrasing to the stage they mean.
var stageAliases = map[string]core.Stage{
	"discovery":        core.StageDiscovery,
	"business":         core.StageDiscovery,
	"brand":            core.StageBrandAnalysis,
	"brand analysis":   core.StageBrandAnalysis,
	"branding":         core.StageBrandAnalysis,
	"strategy":         core.StageStrategy,
	"plan":             core.StageStrategy,
	"content":          core.StageContentCreation,
	"content creation": core.StageContentCreation,
	"posts":            core.StageContentCreation,
}

// detectRefinement recognizes a review-time request to return to an earlier
// stage. Only stages before review qualify; anything else is just feedback
// for the review agent.
func detectRefinement(text string) (core.Stage, bool) {
	m := refinePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	phrase := strings.TrimSpace(strings.ToLower(m[1]))
	for alias, stage := range stageAliases {
		if strings.HasPrefix(phrase, alias) {
			return stage, true
		}
	}
	return 0, false
}
