package orchestrator

import "github.com/campaignkit/campaignkit/core"

// readiness gates each stage's exit on the facts the next stage needs. An
// agent may declare itself done, but the machine only advances when the
// context agrees.
var readiness = map[core.Stage]func(cm *core.ContextModel) bool{
	core.StageGreeting: func(*core.ContextModel) bool { return true },
	core.StageDiscovery: func(cm *core.ContextModel) bool {
		return cm.Has(core.SlotBusinessDescription) && cm.Has(core.SlotTargetAudience)
	},
	core.StageBrandAnalysis: func(cm *core.ContextModel) bool {
		return cm.Has(core.SlotBrandVoice) && cm.Has(core.SlotObjective)
	},
	core.StageStrategy: func(cm *core.ContextModel) bool {
		return cm.Has(core.SlotContentPillars) && cm.Has(core.SlotPlatforms)
	},
	core.StageContentCreation: func(cm *core.ContextModel) bool {
		return cm.Has(core.SlotPosts)
	},
	core.StageReview:       func(*core.ContextModel) bool { return true },
	core.StageFinalization: func(*core.ContextModel) bool { return true },
}

func (o *Orchestrator) ready(stage core.Stage, cm *core.ContextModel) bool {
	pred, ok := readiness[stage]
	if !ok {
		return false
	}
	return pred(cm)
}

// stageWeights is the cumulative progress reached on entering each stage.
var stageWeights = map[core.Stage]float64{
	core.StageGreeting:        0.05,
	core.StageDiscovery:       0.15,
	core.StageBrandAnalysis:   0.35,
	core.StageStrategy:        0.55,
	core.StageContentCreation: 0.75,
	core.StageReview:          0.90,
	core.StageFinalization:    1.00,
}

// progress blends the stage baseline with a small bonus for filled slots so
// the number moves within a stage, not just at transitions.
func progress(stage core.Stage, cm *core.ContextModel) float64 {
	base := stageWeights[stage]
	if stage.Terminal() {
		return base
	}
	bonus := float64(cm.Len()) * 0.01
	if bonus > 0.08 {
		bonus = 0.08
	}
	p := base + bonus
	if p > 0.99 {
		p = 0.99
	}
	return p
}
