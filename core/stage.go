package core

import "fmt"

// Stage is one phase of the fixed campaign-building sequence. Stages are
// strictly ordered; a session only moves forward through them, except for an
// explicit refinement requested during review.
type Stage int

const (
	StageGreeting Stage = iota
	StageDiscovery
	StageBrandAnalysis
	StageStrategy
	StageContentCreation
	StageReview
	StageFinalization
)

var stageNames = [...]string{
	"greeting",
	"discovery",
	"brand_analysis",
	"strategy",
	"content_creation",
	"review",
	"finalization",
}

// String returns the stable wire name of the stage.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is a member of the closed stage set.
func (s Stage) Valid() bool {
	return s >= StageGreeting && s <= StageFinalization
}

// Terminal reports whether s has no outgoing transition.
func (s Stage) Terminal() bool {
	return s == StageFinalization
}

// Next returns the successor stage. The terminal stage returns itself.
func (s Stage) Next() Stage {
	if s.Terminal() || !s.Valid() {
		return s
	}
	return s + 1
}

// Before reports whether s comes earlier than other in the sequence.
func (s Stage) Before(other Stage) bool {
	return s < other
}

// ParseStage maps a wire name back to its stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Stages returns the full sequence in order.
func Stages() []Stage {
	out := make([]Stage, len(stageNames))
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}
