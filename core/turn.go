package core

import "time"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a session's dialogue. Turns are immutable once
// appended; Seq is the append index within the session and never changes,
// even after the turn has been folded into a summary.
type Turn struct {
	Seq       int          `json:"seq"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Payload   *TurnPayload `json:"payload,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// TurnPayload carries structured results attached to an assistant turn, so
// generated content survives alongside the prose that introduced it.
type TurnPayload struct {
	Posts     []Post     `json:"posts,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Summary stands in for a contiguous run of raw turns that has been
// compressed. FromSeq and ToSeq are inclusive.
type Summary struct {
	FromSeq   int       `json:"from_seq"`
	ToSeq     int       `json:"to_seq"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
