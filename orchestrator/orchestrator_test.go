package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignkit/campaignkit/agents"
	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/memory"
	"github.com/campaignkit/campaignkit/memory/store/sqlite"
	"github.com/campaignkit/campaignkit/profile"
	"github.com/campaignkit/campaignkit/services"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.InitialBackoff = time.Millisecond
	cfg.RateLimitPause = time.Millisecond
	return cfg
}

func newTestMemory(t *testing.T) *memory.Manager {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr, err := memory.NewManager(store, memory.CharEstimator{}, memory.ExtractSummarizer{})
	require.NoError(t, err)
	return mgr
}

func newScriptedOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	reg := agents.Registry(services.NewScriptedLLM(), services.NewStaticImage(), zerolog.Nop())
	orch, err := New(newTestMemory(t), reg, WithConfig(testConfig()))
	require.NoError(t, err)
	return orch
}

// fakeAgent lets tests script a single stage's behavior.
type fakeAgent struct {
	stage core.Stage
	fn    func(in *agents.Input) (*agents.Result, error)
}

func (f *fakeAgent) Stage() core.Stage { return f.stage }
func (f *fakeAgent) Process(_ context.Context, in *agents.Input) (*agents.Result, error) {
	return f.fn(in)
}

// echoRegistry fills every stage with a trivial complete-immediately agent,
// then lets the test override specific stages.
func echoRegistry(overrides map[core.Stage]agents.Agent) map[core.Stage]agents.Agent {
	reg := make(map[core.Stage]agents.Agent)
	for _, stage := range core.Stages() {
		stage := stage
		reg[stage] = &fakeAgent{stage: stage, fn: func(*agents.Input) (*agents.Result, error) {
			return &agents.Result{Message: "ok", StageComplete: true}, nil
		}}
	}
	for stage, agent := range overrides {
		reg[stage] = agent
	}
	return reg
}

func TestFullScriptedPipeline(t *testing.T) {
	orch := newScriptedOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, core.StageGreeting, resp.Stage)
	assert.NotEmpty(t, resp.Text)

	sessionID := resp.SessionID
	turns := []struct {
		text  string
		stage core.Stage
	}{
		{"I run a specialty coffee roastery", core.StageDiscovery},
		{"we roast single-origin beans weekly", core.StageBrandAnalysis},
		{"warm and craft-focused sounds right", core.StageStrategy},
		{"that strategy works for me", core.StageContentCreation},
		{"draft the posts please", core.StageReview},
		{"looks good, finalize it", core.StageFinalization},
	}

	prev := core.StageGreeting
	var progress float64
	for _, step := range turns {
		resp, err = orch.HandleTurn(ctx, sessionID, step.text)
		require.NoError(t, err, step.text)
		assert.Equal(t, step.stage, resp.Stage, step.text)

		// Stages only move forward without an explicit refinement.
		assert.False(t, resp.Stage.Before(prev))
		assert.GreaterOrEqual(t, resp.Progress, progress)
		prev, progress = resp.Stage, resp.Progress
	}

	// The terminal turn wraps up and reports completion.
	resp, err = orch.HandleTurn(ctx, sessionID, "thanks!")
	require.NoError(t, err)
	assert.Equal(t, core.StageFinalization, resp.Stage)
	assert.True(t, resp.CampaignComplete)
	assert.Equal(t, 1.0, resp.Progress)

	campaign, err := orch.Campaign(ctx, sessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, campaign.Posts)
	assert.NotEmpty(t, campaign.StrategySummary)
}

func TestRefinementRewindFromReview(t *testing.T) {
	orch := newScriptedOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	for _, text := range []string{
		"I run a specialty coffee roastery",
		"we roast single-origin beans weekly",
		"warm and craft-focused sounds right",
		"that strategy works for me",
		"draft the posts please",
	} {
		resp, err = orch.HandleTurn(ctx, sessionID, text)
		require.NoError(t, err)
	}
	require.Equal(t, core.StageReview, resp.Stage)

	// Rewind: the strategy agent answers and the machine moves forward
	// again from strategy.
	resp, err = orch.HandleTurn(ctx, sessionID, "go back to strategy, I want a different angle")
	require.NoError(t, err)
	assert.Equal(t, core.StageContentCreation, resp.Stage)

	resp, err = orch.HandleTurn(ctx, sessionID, "redo the posts with the new strategy")
	require.NoError(t, err)
	assert.Equal(t, core.StageReview, resp.Stage)
}

func TestRefinementUnlockSurvivesTurns(t *testing.T) {
	// A refinement where the target agent first asks a clarifying question
	// and only rewrites on the following turn. The overwrite eligibility
	// must survive the save/load cycle between those turns.
	strategyCalls := 0
	strategy := &fakeAgent{stage: core.StageStrategy, fn: func(*agents.Input) (*agents.Result, error) {
		strategyCalls++
		switch strategyCalls {
		case 1:
			return &agents.Result{
				Message: "strategy set",
				Delta: core.Delta{
					core.SlotContentPillars: core.ListValue("origin stories"),
					core.SlotPlatforms:      core.ListValue("instagram"),
				},
				StageComplete: true,
			}, nil
		case 2:
			return &agents.Result{Message: "What angle should the new strategy take?"}, nil
		default:
			return &agents.Result{
				Message: "rewrote posts",
				Delta: core.Delta{
					core.SlotStrategySummary: core.TextValue("seasonal drops"),
					core.SlotPosts:           core.PostsValue([]core.Post{{Platform: "instagram", Content: "new drop friday"}}),
				},
				StageComplete: true,
			}, nil
		}
	}}
	discovery := &fakeAgent{stage: core.StageDiscovery, fn: func(*agents.Input) (*agents.Result, error) {
		return &agents.Result{
			Message: "noted",
			Delta: core.Delta{
				core.SlotBusinessDescription: core.TextValue("roastery"),
				core.SlotTargetAudience:      core.TextValue("commuters"),
			},
			StageComplete: true,
		}, nil
	}}
	brand := &fakeAgent{stage: core.StageBrandAnalysis, fn: func(*agents.Input) (*agents.Result, error) {
		return &agents.Result{
			Message: "read",
			Delta: core.Delta{
				core.SlotBrandVoice: core.TextValue("warm"),
				core.SlotObjective:  core.TextValue("grow subscriptions"),
			},
			StageComplete: true,
		}, nil
	}}
	content := &fakeAgent{stage: core.StageContentCreation, fn: func(*agents.Input) (*agents.Result, error) {
		return &agents.Result{
			Message: "drafted",
			Delta: core.Delta{
				core.SlotPosts: core.PostsValue([]core.Post{{Platform: "instagram", Content: "original post"}}),
			},
			StageComplete: true,
		}, nil
	}}

	mem := newTestMemory(t)
	orch, err := New(mem, echoRegistry(map[core.Stage]agents.Agent{
		core.StageDiscovery:       discovery,
		core.StageBrandAnalysis:   brand,
		core.StageStrategy:        strategy,
		core.StageContentCreation: content,
	}), WithConfig(testConfig()))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	for _, text := range []string{"hi", "a roastery", "warm voice", "plan it", "draft posts"} {
		resp, err = orch.HandleTurn(ctx, sessionID, text)
		require.NoError(t, err)
	}
	require.Equal(t, core.StageReview, resp.Stage)

	// The rewind turn writes nothing yet.
	resp, err = orch.HandleTurn(ctx, sessionID, "go back to strategy")
	require.NoError(t, err)
	require.Equal(t, core.StageStrategy, resp.Stage)
	require.Equal(t, "What angle should the new strategy take?", resp.Text)

	// The next turn rewrites the posts from the earlier stage.
	resp, err = orch.HandleTurn(ctx, sessionID, "make it about seasonal drops")
	require.NoError(t, err)
	assert.Equal(t, "rewrote posts", resp.Text)
	assert.Equal(t, core.StageContentCreation, resp.Stage)

	sess, err := mem.GetSession(ctx, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, sess.Context.Posts(core.SlotPosts))
	assert.Equal(t, "new drop friday", sess.Context.Posts(core.SlotPosts)[0].Content)
	assert.Equal(t, "seasonal drops", sess.Context.Text(core.SlotStrategySummary))
}

func TestProviderFailureLeavesStateUnchanged(t *testing.T) {
	calls := 0
	boom := &fakeAgent{stage: core.StageDiscovery, fn: func(*agents.Input) (*agents.Result, error) {
		calls++
		return nil, &services.ProviderError{Provider: "test", Op: "complete", Err: errors.New("down")}
	}}

	mem := newTestMemory(t)
	orch, err := New(mem, echoRegistry(map[core.Stage]agents.Agent{core.StageDiscovery: boom}), WithConfig(testConfig()))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	// Greeting advances to discovery.
	resp, err = orch.HandleTurn(ctx, sessionID, "hi there")
	require.NoError(t, err)
	require.Equal(t, core.StageDiscovery, resp.Stage)

	// Discovery fails after retries; the turn reports trouble but the
	// session stays where it was.
	resp, err = orch.HandleTurn(ctx, sessionID, "my business is a bakery")
	require.NoError(t, err)
	assert.Equal(t, core.StageDiscovery, resp.Stage)
	assert.Contains(t, resp.Text, "try again")
	assert.Equal(t, 3, calls) // initial attempt plus two retries

	sess, err := mem.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, core.StageDiscovery, sess.Stage)
	assert.Equal(t, 1, sess.Failures)
	assert.False(t, sess.Context.Has(core.SlotBusinessDescription))
}

func TestThrottleBackOffUsesAnnouncedPause(t *testing.T) {
	var pause time.Duration
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Millisecond
	bo := &throttleBackOff{BackOff: exp, pause: &pause}

	// A throttle window replaces the exponential delay entirely and is
	// consumed by the read.
	pause = 42 * time.Second
	assert.Equal(t, 42*time.Second, bo.NextBackOff())
	assert.Equal(t, time.Duration(0), pause)

	// Without one, the wrapped policy decides.
	next := bo.NextBackOff()
	assert.Greater(t, next, time.Duration(0))
	assert.Less(t, next, time.Second)
}

func TestRetrySucceedsWithinTurn(t *testing.T) {
	calls := 0
	flaky := &fakeAgent{stage: core.StageDiscovery, fn: func(*agents.Input) (*agents.Result, error) {
		calls++
		if calls == 1 {
			return nil, &services.RateLimitError{Provider: "test", RetryAfter: 30 * time.Millisecond}
		}
		return &agents.Result{
			Message: "got it",
			Delta: core.Delta{
				core.SlotBusinessDescription: core.TextValue("bakery"),
				core.SlotTargetAudience:      core.TextValue("locals"),
			},
			StageComplete: true,
		}, nil
	}}

	orch, err := New(newTestMemory(t), echoRegistry(map[core.Stage]agents.Agent{core.StageDiscovery: flaky}), WithConfig(testConfig()))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	_, err = orch.HandleTurn(ctx, sessionID, "hi")
	require.NoError(t, err)

	start := time.Now()
	resp, err = orch.HandleTurn(ctx, sessionID, "we're a bakery for locals")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, core.StageBrandAnalysis, resp.Stage)

	// The provider's throttle window was honored before the retry.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestValidationErrorDoesNotRetry(t *testing.T) {
	calls := 0
	invalid := &fakeAgent{stage: core.StageDiscovery, fn: func(*agents.Input) (*agents.Result, error) {
		calls++
		return nil, &core.ValidationError{Slot: core.SlotPlatforms, Reason: "bad kind"}
	}}

	orch, err := New(newTestMemory(t), echoRegistry(map[core.Stage]agents.Agent{core.StageDiscovery: invalid}), WithConfig(testConfig()))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	_, err = orch.HandleTurn(ctx, sessionID, "hi")
	require.NoError(t, err)

	resp, err = orch.HandleTurn(ctx, sessionID, "whatever")
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "try again")
	assert.Equal(t, 1, calls)
}

func TestRejectedDeltaFailsTurnWithoutMutation(t *testing.T) {
	bad := &fakeAgent{stage: core.StageDiscovery, fn: func(*agents.Input) (*agents.Result, error) {
		return &agents.Result{
			Message: "here",
			Delta:   core.Delta{core.Slot("no_such_slot"): core.TextValue("x")},
		}, nil
	}}

	mem := newTestMemory(t)
	orch, err := New(mem, echoRegistry(map[core.Stage]agents.Agent{core.StageDiscovery: bad}), WithConfig(testConfig()))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	_, err = orch.HandleTurn(ctx, sessionID, "hi")
	require.NoError(t, err)

	resp, err = orch.HandleTurn(ctx, sessionID, "anything")
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "try again")

	sess, err := mem.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Context.Len())
	assert.Equal(t, 1, sess.Failures)
}

func TestRepeatedFailuresCloseSession(t *testing.T) {
	boom := &fakeAgent{stage: core.StageDiscovery, fn: func(*agents.Input) (*agents.Result, error) {
		return nil, &services.ProviderError{Provider: "test", Op: "complete", Err: errors.New("down")}
	}}

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.MaxTurnFailures = 2

	orch, err := New(newTestMemory(t), echoRegistry(map[core.Stage]agents.Agent{core.StageDiscovery: boom}), WithConfig(cfg))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	_, err = orch.HandleTurn(ctx, sessionID, "hi")
	require.NoError(t, err)

	// First failure is recoverable.
	resp, err = orch.HandleTurn(ctx, sessionID, "a")
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "try again")

	// Second consecutive failure closes the session for good.
	_, err = orch.HandleTurn(ctx, sessionID, "b")
	require.ErrorIs(t, err, core.ErrSessionClosed)

	_, err = orch.HandleTurn(ctx, sessionID, "c")
	require.ErrorIs(t, err, core.ErrSessionClosed)
}

func TestUnknownSessionRejected(t *testing.T) {
	orch := newScriptedOrchestrator(t)
	_, err := orch.HandleTurn(context.Background(), "no-such-session", "hello")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestEndSessionClosesExplicitly(t *testing.T) {
	orch := newScriptedOrchestrator(t)
	ctx := context.Background()

	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, orch.EndSession(ctx, resp.SessionID))

	_, err = orch.HandleTurn(ctx, resp.SessionID, "hello?")
	assert.ErrorIs(t, err, core.ErrSessionClosed)
}

func TestProfileSeedingAcrossSessions(t *testing.T) {
	profiles, err := profile.NewStore(profile.NewLocalEmbedder(64))
	require.NoError(t, err)

	reg := agents.Registry(services.NewScriptedLLM(), services.NewStaticImage(), zerolog.Nop())
	mem := newTestMemory(t)
	orch, err := New(mem, reg, WithConfig(testConfig()), WithProfiles(profiles))
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)
	sessionID := resp.SessionID

	for _, text := range []string{
		"I run a specialty coffee roastery",
		"we roast single-origin beans weekly",
		"warm and craft-focused sounds right",
		"that strategy works for me",
	} {
		_, err = orch.HandleTurn(ctx, sessionID, text)
		require.NoError(t, err)
	}

	// The brand voice and platforms were learned; a new session starts
	// seeded with them.
	resp2, err := orch.StartSession(ctx, "user-1")
	require.NoError(t, err)

	sess, err := mem.GetSession(ctx, resp2.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Context.List(core.SlotPreferences))
}

func TestDetectRefinement(t *testing.T) {
	cases := []struct {
		text   string
		stage  core.Stage
		expect bool
	}{
		{"go back to strategy", core.StageStrategy, true},
		{"can we go back to the content creation step", core.StageContentCreation, true},
		{"let's revisit discovery", core.StageDiscovery, true},
		{"redo the brand analysis", core.StageBrandAnalysis, true},
		{"change the posts", core.StageContentCreation, true},
		{"looks good", 0, false},
		{"go back to sleep", 0, false},
	}
	for _, tc := range cases {
		stage, ok := detectRefinement(tc.text)
		assert.Equal(t, tc.expect, ok, tc.text)
		if tc.expect {
			assert.Equal(t, tc.stage, stage, tc.text)
		}
	}
}

func TestProgressMonotoneAcrossStages(t *testing.T) {
	cm := core.NewContextModel()
	last := 0.0
	for _, stage := range core.Stages() {
		p := progress(stage, cm)
		assert.Greater(t, p, last, stage.String())
		last = p
	}
	assert.Equal(t, 1.0, progress(core.StageFinalization, cm))
}
