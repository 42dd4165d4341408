// Package agents implements the per-stage conversation specialists. Every
// agent satisfies the same contract: it receives the user's message, a
// read-only context snapshot, and the bounded memory view, and returns a
// reply plus a delta of slot writes for the orchestrator to validate and
// merge. Agents never touch the store or mutate shared state.
package agents

import (
	"context"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/memory"
)

// Input is what the orchestrator hands the active stage agent.
type Input struct {
	// UserText is the raw user message. Empty on the session-opening call.
	UserText string

	// Context is a snapshot; writes to it do not reach the session.
	Context *core.ContextModel

	// Memory is the bounded view of the dialogue so far.
	Memory memory.View
}

// Result is the uniform agent output.
type Result struct {
	// Message is the user-facing reply.
	Message string

	// Suggestions are optional quick-reply prompts.
	Suggestions []string

	// Delta holds the slot writes this call produced. May be empty.
	Delta core.Delta

	// Artifacts are visual assets generated during this call.
	Artifacts []core.Artifact

	// StageComplete signals that this stage has what it needs. The
	// orchestrator still checks the transition's readiness predicate
	// before advancing.
	StageComplete bool
}

// Agent is the capability contract every stage specialist implements.
type Agent interface {
	// Stage names the single stage this agent serves.
	Stage() core.Stage

	// Process handles one turn. Errors from the model or image provider
	// propagate unwrapped so the orchestrator can pick a retry policy by
	// type.
	Process(ctx context.Context, in *Input) (*Result, error)
}
