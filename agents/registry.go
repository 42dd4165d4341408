package agents

import (
	"github.com/rs/zerolog"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

// Registry builds the full stage-to-agent table. image may be nil to draft
// campaigns without visuals.
func Registry(llm services.LLMService, image services.ImageService, log zerolog.Logger) map[core.Stage]Agent {
	var visual *Visual
	if image != nil {
		visual = NewVisual(image, log)
	}
	return map[core.Stage]Agent{
		core.StageGreeting:        NewGreeting(),
		core.StageDiscovery:       NewDiscovery(llm),
		core.StageBrandAnalysis:   NewBrandAnalyzer(llm),
		core.StageStrategy:        NewStrategist(llm),
		core.StageContentCreation: NewContentCreator(llm, visual),
		core.StageReview:          NewReviewer(llm),
		core.StageFinalization:    NewFinalizer(),
	}
}
