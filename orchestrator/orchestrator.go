// Package orchestrator drives a session through the fixed campaign stages:
// it owns the state machine, routes each turn to the active stage agent,
// validates and merges the agent's context delta, and persists everything
// through the memory manager.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campaignkit/campaignkit/agents"
	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/memory"
	"github.com/campaignkit/campaignkit/profile"
	"github.com/campaignkit/campaignkit/services"
)

const tryAgainMessage = "I hit a snag handling that. Nothing was lost, please try again."

// Config tunes turn handling.
type Config struct {
	// ViewBudget is the memory budget handed to agents, in estimator units.
	ViewBudget int

	// MaxRetries bounds provider retry attempts within one turn.
	MaxRetries int

	// MaxTurnFailures is how many consecutive failed turns close a session.
	MaxTurnFailures int

	// CallTimeout bounds a single agent invocation.
	CallTimeout time.Duration

	// InitialBackoff seeds the exponential retry delay.
	InitialBackoff time.Duration

	// RateLimitPause is the extra wait applied after provider throttling
	// when the provider did not say how long to wait.
	RateLimitPause time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ViewBudget:      4000,
		MaxRetries:      2,
		MaxTurnFailures: 3,
		CallTimeout:     90 * time.Second,
		InitialBackoff:  500 * time.Millisecond,
		RateLimitPause:  5 * time.Second,
	}
}

// Orchestrator is the conversation front door. Safe for concurrent use;
// turns within one session are serialized.
type Orchestrator struct {
	agents   map[core.Stage]agents.Agent
	mem      *memory.Manager
	profiles *profile.Store
	cfg      Config
	log      zerolog.Logger
	locks    *sessionLocks
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithLogger sets the orchestrator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithProfiles enables cross-session preference recall.
func WithProfiles(p *profile.Store) Option {
	return func(o *Orchestrator) { o.profiles = p }
}

// New builds an Orchestrator over a complete agent registry.
func New(mem *memory.Manager, registry map[core.Stage]agents.Agent, opts ...Option) (*Orchestrator, error) {
	if mem == nil {
		return nil, errors.New("orchestrator: memory manager is required")
	}
	for _, stage := range core.Stages() {
		if _, ok := registry[stage]; !ok {
			return nil, errors.Errorf("orchestrator: no agent registered for stage %s", stage)
		}
	}
	o := &Orchestrator{
		agents: registry,
		mem:    mem,
		cfg:    DefaultConfig(),
		log:    zerolog.Nop(),
		locks:  newSessionLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// StartSession opens a new session for the user and returns the greeting.
func (o *Orchestrator) StartSession(ctx context.Context, userID string) (*core.Response, error) {
	seed := core.NewContextModel()
	if o.profiles != nil {
		if err := o.profiles.SeedContext(ctx, userID, seed); err != nil {
			// Profile recall is best effort; a fresh session works without it.
			o.log.Warn().Err(err).Str("user_id", userID).Msg("[orchestrator] profile seed failed")
		}
	}

	sess, err := o.mem.CreateSession(ctx, userID, seed)
	if err != nil {
		return nil, err
	}

	res, err := o.invoke(ctx, o.agents[core.StageGreeting], &agents.Input{
		Context: sess.Context.Clone(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := o.mem.AppendTurn(ctx, sess.ID, core.RoleAssistant, res.Message, nil); err != nil {
		return nil, err
	}
	return o.response(sess, res), nil
}

// HandleTurn processes one user message against a session. Provider failures
// are retried; a turn that still fails leaves session state untouched and is
// reported in the response text. Store failures always propagate as errors.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userText string) (*core.Response, error) {
	release := o.locks.acquire(sessionID)
	defer release()

	sess, err := o.mem.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Closed {
		return nil, core.ErrSessionClosed
	}

	if _, err := o.mem.AppendTurn(ctx, sessionID, core.RoleUser, userText, nil); err != nil {
		return nil, err
	}

	// A review-time "go back to X" rewinds the machine before dispatch and
	// unlocks the slots the target stage will need to rewrite.
	if sess.Stage == core.StageReview {
		if target, ok := detectRefinement(userText); ok && target.Before(sess.Stage) {
			o.log.Info().
				Str("session_id", sessionID).
				Str("from", sess.Stage.String()).
				Str("to", target.String()).
				Msg("[orchestrator] refinement rewind")
			sess.Stage = target
			sess.Context.Unlock(target)
		}
	}

	view, err := o.mem.View(ctx, sessionID, o.cfg.ViewBudget)
	if err != nil {
		return nil, err
	}

	agent := o.agents[sess.Stage]
	res, err := o.invoke(ctx, agent, &agents.Input{
		UserText: userText,
		Context:  sess.Context.Clone(),
		Memory:   view,
	})
	if err != nil {
		return o.failTurn(ctx, sess, err)
	}

	// All-or-nothing merge; a rejected delta fails the turn with no
	// mutation.
	if len(res.Delta) > 0 {
		if err := sess.Context.Apply(res.Delta, sess.Stage); err != nil {
			o.log.Warn().Err(err).
				Str("session_id", sessionID).
				Str("stage", sess.Stage.String()).
				Msg("[orchestrator] delta rejected")
			return o.failTurn(ctx, sess, err)
		}
	}

	var payload *core.TurnPayload
	if posts, ok := res.Delta[core.SlotPosts]; ok || len(res.Artifacts) > 0 {
		payload = &core.TurnPayload{Posts: posts.Posts, Artifacts: res.Artifacts}
	}
	if _, err := o.mem.AppendTurn(ctx, sessionID, core.RoleAssistant, res.Message, payload); err != nil {
		return nil, err
	}

	sess.Failures = 0
	completed := false
	if res.StageComplete && o.ready(sess.Stage, sess.Context) {
		if sess.Stage.Terminal() {
			completed = true
		} else {
			next := sess.Stage.Next()
			o.log.Info().
				Str("session_id", sessionID).
				Str("from", sess.Stage.String()).
				Str("to", next.String()).
				Msg("[orchestrator] stage advance")
			sess.Stage = next
		}
	}

	o.learn(ctx, sess, res.Delta)

	if _, err := o.mem.MaybeCompress(ctx, sessionID); err != nil {
		// Compression trouble must not fail the turn; raw turns are intact.
		o.log.Error().Err(err).Str("session_id", sessionID).Msg("[orchestrator] compression failed")
	}

	if err := o.mem.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	resp := o.response(sess, res)
	resp.CampaignComplete = completed
	return resp, nil
}

// Campaign builds the export package for a session.
func (o *Orchestrator) Campaign(ctx context.Context, sessionID string) (core.Campaign, error) {
	sess, err := o.mem.GetSession(ctx, sessionID)
	if err != nil {
		return core.Campaign{}, err
	}
	return core.BuildCampaign(sess.ID, sess.Context), nil
}

// EndSession closes a session explicitly.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	release := o.locks.acquire(sessionID)
	defer release()

	sess, err := o.mem.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Closed = true
	return o.mem.SaveSession(ctx, sess)
}

// invoke runs one agent call with timeout and typed retries: validation
// errors never retry, rate limits wait out the provider's throttle window,
// other provider errors back off exponentially.
func (o *Orchestrator) invoke(ctx context.Context, agent agents.Agent, in *agents.Input) (*agents.Result, error) {
	var res *agents.Result
	var throttle time.Duration

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()

		r, err := agent.Process(callCtx, in)
		if err != nil {
			var vErr *core.ValidationError
			if errors.As(err, &vErr) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			var rl *services.RateLimitError
			if errors.As(err, &rl) {
				throttle = rl.RetryAfter
				if throttle <= 0 {
					throttle = o.cfg.RateLimitPause
				}
				o.log.Warn().Dur("pause", throttle).Str("stage", agent.Stage().String()).Msg("[orchestrator] rate limited")
			}
			return err
		}
		res = r
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.cfg.InitialBackoff
	bo := &throttleBackOff{BackOff: exp, pause: &throttle}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(o.cfg.MaxRetries)))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// throttleBackOff delays by the provider's announced throttle window after a
// rate limit, instead of stacking it on top of the exponential delay. The
// pause is consumed once; other failures fall through to the wrapped policy.
type throttleBackOff struct {
	backoff.BackOff
	pause *time.Duration
}

func (b *throttleBackOff) NextBackOff() time.Duration {
	if d := *b.pause; d > 0 {
		*b.pause = 0
		return d
	}
	return b.BackOff.NextBackOff()
}

// failTurn records a failed turn without touching stage or context. After
// too many consecutive failures the session is closed for good.
func (o *Orchestrator) failTurn(ctx context.Context, sess *memory.Session, cause error) (*core.Response, error) {
	sess.Failures++
	o.log.Error().Err(cause).
		Str("session_id", sess.ID).
		Int("failures", sess.Failures).
		Msg("[orchestrator] turn failed")

	if sess.Failures >= o.cfg.MaxTurnFailures {
		sess.Closed = true
		if err := o.mem.SaveSession(ctx, sess); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(core.ErrSessionClosed, "%d consecutive failures", sess.Failures)
	}

	if err := o.mem.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	resp := o.response(sess, &agents.Result{Message: tryAgainMessage})
	return resp, nil
}

// learn pushes durable preference facts into the profile store. Best effort.
func (o *Orchestrator) learn(ctx context.Context, sess *memory.Session, delta core.Delta) {
	if o.profiles == nil {
		return
	}
	if v, ok := delta[core.SlotBrandVoice]; ok {
		fact := fmt.Sprintf("Their brand voice is %s.", v.Text)
		if err := o.profiles.Record(ctx, sess.UserID, fact); err != nil {
			o.log.Warn().Err(err).Msg("[orchestrator] profile record failed")
		}
	}
	if v, ok := delta[core.SlotPlatforms]; ok {
		fact := "They publish on " + joinComma(v.List) + "."
		if err := o.profiles.Record(ctx, sess.UserID, fact); err != nil {
			o.log.Warn().Err(err).Msg("[orchestrator] profile record failed")
		}
	}
}

func (o *Orchestrator) response(sess *memory.Session, res *agents.Result) *core.Response {
	return &core.Response{
		SessionID:   sess.ID,
		Text:        res.Message,
		Suggestions: res.Suggestions,
		Artifacts:   res.Artifacts,
		Stage:       sess.Stage,
		StageName:   sess.Stage.String(),
		Progress:    progress(sess.Stage, sess.Context),
	}
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}
