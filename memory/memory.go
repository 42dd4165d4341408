package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campaignkit/campaignkit/core"
)

// ErrRangeCompressed is returned by Store.CompressRange when any turn in the
// requested range has already been archived. Callers treat it as a benign
// sign of a concurrent fold.
var ErrRangeCompressed = errors.New("turn range already compressed")

// Session is the durable conversation record. It is owned by the Manager;
// the rest of the system holds one only for the duration of a single
// interaction.
type Session struct {
	ID        string
	UserID    string
	Stage     core.Stage
	Context   *core.ContextModel
	Failures  int
	Closed    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable backend: session records, an append-only turn log, and
// a summary log, all keyed by session id.
//
// Implementations: sqlite.Store (local), any SQL-backed store in production.
type Store interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, sess *Session) error

	// GetSession loads a session, or core.ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// SaveSession persists the mutable parts of a session record: stage,
	// context, failure count, closed flag.
	SaveSession(ctx context.Context, sess *Session) error

	// ListSessions returns a user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error)

	// DeleteSession removes a session and all of its turns and summaries.
	DeleteSession(ctx context.Context, sessionID string) error

	// PurgeExpired deletes sessions not updated since the cutoff and returns
	// how many were removed.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)

	// AppendTurn appends a turn, assigning the next sequence number for the
	// session. Seq and CreatedAt are set on the passed turn.
	AppendTurn(ctx context.Context, sessionID string, turn *core.Turn) error

	// Turns returns the live (not yet compressed) turns in sequence order.
	Turns(ctx context.Context, sessionID string) ([]core.Turn, error)

	// AllTurns returns every turn ever appended, archived included, in
	// sequence order. Compression never loses the raw record.
	AllTurns(ctx context.Context, sessionID string) ([]core.Turn, error)

	// Summaries returns the session's summaries ordered by the range they
	// cover.
	Summaries(ctx context.Context, sessionID string) ([]core.Summary, error)

	// CompressRange atomically records a summary and archives the turns it
	// covers. Returns ErrRangeCompressed when the range was already folded.
	CompressRange(ctx context.Context, sessionID string, sum core.Summary) error

	// Close releases resources.
	Close() error
}

// Estimator measures text in the units the view budget is denominated in.
//
// Implementations: CharEstimator (heuristic), TokenEstimator (real BPE).
type Estimator interface {
	Estimate(text string) int
}

// Summarizer folds a run of turns into prose.
//
// Implementations: LLMSummarizer (model-backed), ExtractSummarizer
// (deterministic fallback).
type Summarizer interface {
	Summarize(ctx context.Context, turns []core.Turn) (string, error)
}

// View is the bounded prompt-visible slice of a session's history: summaries
// first, then the most recent raw turns, both oldest first.
type View struct {
	Summaries []core.Summary
	Turns     []core.Turn
	Size      int
	Truncated bool
}

// Empty reports whether the view carries no history at all.
func (v View) Empty() bool {
	return len(v.Summaries) == 0 && len(v.Turns) == 0
}

// Render formats the view for prompt injection.
func (v View) Render() string {
	if v.Empty() {
		return ""
	}
	var b strings.Builder
	for _, s := range v.Summaries {
		fmt.Fprintf(&b, "[earlier conversation] %s\n", s.Content)
	}
	for _, t := range v.Turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

// Config tunes the Manager.
type Config struct {
	// CompressThreshold is the live-turn count above which compression
	// triggers.
	CompressThreshold int

	// KeepRecent is how many raw turns survive a fold. Zero means keep
	// CompressThreshold turns.
	KeepRecent int

	// ViewBudget is the default budget for View calls that pass zero.
	ViewBudget int

	// FallbackExtract enables the deterministic summarizer when the
	// configured one fails. Compression never drops turns on a summarizer
	// error either way.
	FallbackExtract bool

	// CacheSize bounds the view cache in estimator units. Zero disables
	// caching.
	CacheSize int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		CompressThreshold: 20,
		ViewBudget:        4000,
		FallbackExtract:   true,
		CacheSize:         1 << 20,
	}
}

func (c *Config) keepRecent() int {
	if c.KeepRecent > 0 {
		return c.KeepRecent
	}
	return c.CompressThreshold
}
