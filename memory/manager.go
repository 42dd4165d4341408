package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campaignkit/campaignkit/core"
)

// Manager owns session records and their dialogue history. All persistence
// flows through it; failures surface as *core.StoreError and are never
// swallowed.
type Manager struct {
	store      Store
	est        Estimator
	summarizer Summarizer
	cfg        *Config
	log        zerolog.Logger

	views    *ristretto.Cache
	versions sync.Map // session id -> *uint64 view-cache generation
	folds    sync.Map // session id -> *sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg *Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// NewManager builds a Manager over the given backend.
func NewManager(store Store, est Estimator, summarizer Summarizer, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("memory: store is required")
	}
	if est == nil {
		est = CharEstimator{}
	}
	m := &Manager{
		store:      store,
		est:        est,
		summarizer: summarizer,
		cfg:        DefaultConfig(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.CompressThreshold < 2 {
		return nil, errors.Errorf("memory: compress threshold %d too small", m.cfg.CompressThreshold)
	}
	if m.cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e4,
			MaxCost:     m.cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.Wrap(err, "memory: creating view cache")
		}
		m.views = cache
	}
	return m, nil
}

// CreateSession starts a new session for a user. The seed context may be nil.
func (m *Manager) CreateSession(ctx context.Context, userID string, seed *core.ContextModel) (*Session, error) {
	if seed == nil {
		seed = core.NewContextModel()
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Stage:     core.StageGreeting,
		Context:   seed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, &core.StoreError{Op: "create session", Err: err}
	}
	m.log.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("[memory] session created")
	return sess, nil
}

// GetSession loads a session record.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, err
		}
		return nil, &core.StoreError{Op: "get session", Err: err}
	}
	return sess, nil
}

// SaveSession persists a session's mutable state.
func (m *Manager) SaveSession(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return &core.StoreError{Op: "save session", Err: err}
	}
	return nil
}

// ListSessions returns a user's sessions, most recent first.
func (m *Manager) ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error) {
	out, err := m.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, &core.StoreError{Op: "list sessions", Err: err}
	}
	return out, nil
}

// DeleteSession removes a session and its history.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return &core.StoreError{Op: "delete session", Err: err}
	}
	m.bumpVersion(sessionID)
	return nil
}

// PurgeExpired deletes sessions idle since before the cutoff.
func (m *Manager) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := m.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, &core.StoreError{Op: "purge sessions", Err: err}
	}
	if n > 0 {
		m.log.Info().Int("purged", n).Time("cutoff", cutoff).Msg("[memory] purged idle sessions")
	}
	return n, nil
}

// AppendTurn appends one turn to the session's log and returns it with its
// assigned sequence number.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, role core.Role, content string, payload *core.TurnPayload) (core.Turn, error) {
	turn := core.Turn{Role: role, Content: content, Payload: payload}
	if err := m.store.AppendTurn(ctx, sessionID, &turn); err != nil {
		return core.Turn{}, &core.StoreError{Op: "append turn", Err: err}
	}
	m.bumpVersion(sessionID)
	return turn, nil
}

// History returns the complete raw turn log, archived turns included.
func (m *Manager) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	turns, err := m.store.AllTurns(ctx, sessionID)
	if err != nil {
		return nil, &core.StoreError{Op: "load history", Err: err}
	}
	return turns, nil
}

// View assembles the bounded prompt view: all summaries followed by the most
// recent raw turns that fit the budget. When the summaries alone exceed the
// budget the oldest are dropped from the view; nothing is dropped from the
// store. A budget of zero uses the configured default.
func (m *Manager) View(ctx context.Context, sessionID string, budget int) (View, error) {
	if budget <= 0 {
		budget = m.cfg.ViewBudget
	}

	key := m.viewKey(sessionID, budget)
	if m.views != nil {
		if cached, ok := m.views.Get(key); ok {
			if v, ok := cached.(View); ok {
				return v, nil
			}
		}
	}

	summaries, err := m.store.Summaries(ctx, sessionID)
	if err != nil {
		return View{}, &core.StoreError{Op: "load summaries", Err: err}
	}
	turns, err := m.store.Turns(ctx, sessionID)
	if err != nil {
		return View{}, &core.StoreError{Op: "load turns", Err: err}
	}

	v := m.assemble(summaries, turns, budget)

	if m.views != nil {
		m.views.Set(key, v, int64(v.Size)+1)
	}
	return v, nil
}

func (m *Manager) assemble(summaries []core.Summary, turns []core.Turn, budget int) View {
	v := View{}

	size := 0
	for _, s := range summaries {
		size += m.est.Estimate(summaryText(s))
	}
	// Oldest summaries leave the view first if they alone blow the budget.
	for len(summaries) > 0 && size > budget {
		size -= m.est.Estimate(summaryText(summaries[0]))
		summaries = summaries[1:]
		v.Truncated = true
	}

	cut := len(turns)
	for cut > 0 {
		cost := m.est.Estimate(turnText(turns[cut-1]))
		if size+cost > budget {
			break
		}
		size += cost
		cut--
	}
	if cut > 0 {
		v.Truncated = true
	}

	v.Summaries = summaries
	v.Turns = turns[cut:]
	v.Size = size
	return v
}

// MaybeCompress folds the oldest run of raw turns into one summary when the
// live log has grown past the threshold. It is a no-op for short sessions and
// is idempotent: a concurrent duplicate fold is detected by the store and
// dropped. On summarizer failure no turn is ever discarded.
func (m *Manager) MaybeCompress(ctx context.Context, sessionID string) (bool, error) {
	lock := m.foldLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	turns, err := m.store.Turns(ctx, sessionID)
	if err != nil {
		return false, &core.StoreError{Op: "load turns", Err: err}
	}
	if len(turns) < 2 || len(turns) <= m.cfg.CompressThreshold {
		return false, nil
	}

	keep := m.cfg.keepRecent()
	if keep >= len(turns) {
		return false, nil
	}
	old := turns[:len(turns)-keep]

	content, err := m.summarize(ctx, old)
	if err != nil {
		return false, err
	}

	sum := core.Summary{
		FromSeq:   old[0].Seq,
		ToSeq:     old[len(old)-1].Seq,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CompressRange(ctx, sessionID, sum); err != nil {
		if errors.Is(err, ErrRangeCompressed) {
			m.log.Debug().Str("session_id", sessionID).Msg("[memory] fold already applied")
			return false, nil
		}
		return false, &core.StoreError{Op: "compress turns", Err: err}
	}

	m.bumpVersion(sessionID)
	m.log.Info().
		Str("session_id", sessionID).
		Int("from_seq", sum.FromSeq).
		Int("to_seq", sum.ToSeq).
		Int("kept", keep).
		Msg("[memory] compressed turn run")
	return true, nil
}

func (m *Manager) summarize(ctx context.Context, turns []core.Turn) (string, error) {
	if m.summarizer != nil {
		content, err := m.summarizer.Summarize(ctx, turns)
		if err == nil && content != "" {
			return content, nil
		}
		if err != nil {
			if !m.cfg.FallbackExtract {
				return "", errors.Wrap(err, "memory: summarizing turns")
			}
			m.log.Warn().Err(err).Msg("[memory] summarizer failed, using extract fallback")
		}
	}
	return extractSummary(turns), nil
}

func (m *Manager) foldLock(sessionID string) *sync.Mutex {
	v, _ := m.folds.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *Manager) viewKey(sessionID string, budget int) string {
	var gen uint64
	if v, ok := m.versions.Load(sessionID); ok {
		gen = atomic.LoadUint64(v.(*uint64))
	}
	return fmt.Sprintf("%s|%d|%d", sessionID, gen, budget)
}

func (m *Manager) bumpVersion(sessionID string) {
	v, _ := m.versions.LoadOrStore(sessionID, new(uint64))
	atomic.AddUint64(v.(*uint64), 1)
}

func turnText(t core.Turn) string {
	return string(t.Role) + ": " + t.Content
}

func summaryText(s core.Summary) string {
	return "[earlier conversation] " + s.Content
}
