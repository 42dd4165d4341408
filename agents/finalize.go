package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/campaignkit/campaignkit/core"
)

// Finalizer closes out the session: it presents the completed package and
// how to export it. The terminal stage never transitions onward, so every
// turn here is a wrap-up.
type Finalizer struct{}

// NewFinalizer builds the finalization agent.
func NewFinalizer() *Finalizer { return &Finalizer{} }

func (f *Finalizer) Stage() core.Stage { return core.StageFinalization }

func (f *Finalizer) Process(_ context.Context, in *Input) (*Result, error) {
	cm := in.Context
	var b strings.Builder
	b.WriteString("🎉 Your campaign is complete!\n\n")
	if v := cm.Text(core.SlotBusinessDescription); v != "" {
		fmt.Fprintf(&b, "Business: %s\n", v)
	}
	if v := cm.Text(core.SlotObjective); v != "" {
		fmt.Fprintf(&b, "Objective: %s\n", v)
	}
	if v := cm.Text(core.SlotStrategySummary); v != "" {
		fmt.Fprintf(&b, "Strategy: %s\n", v)
	}
	if platforms := cm.List(core.SlotPlatforms); len(platforms) > 0 {
		fmt.Fprintf(&b, "Platforms: %s\n", strings.Join(platforms, ", "))
	}
	posts := cm.Posts(core.SlotPosts)
	fmt.Fprintf(&b, "Posts: %d ready to publish\n", len(posts))
	if arts := cm.Artifacts(core.SlotVisuals); len(arts) > 0 {
		fmt.Fprintf(&b, "Visuals: %d generated\n", len(arts))
	}
	b.WriteString("\nUse the export command to save the full package as JSON.")

	return &Result{
		Message:       b.String(),
		StageComplete: true,
		Suggestions:   []string{"Export the campaign", "Start a new campaign"},
	}, nil
}
