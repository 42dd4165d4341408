package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/memory"
	"github.com/campaignkit/campaignkit/memory/store/sqlite"
)

// wordEstimator makes budgets easy to reason about in tests: one unit per
// whitespace-separated word.
type wordEstimator struct{}

func (wordEstimator) Estimate(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, []core.Turn) (string, error) {
	return "", errors.New("model unavailable")
}

func newTestManager(t *testing.T, cfg *memory.Config) (*memory.Manager, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts := []memory.Option{}
	if cfg != nil {
		opts = append(opts, memory.WithConfig(cfg))
	}
	mgr, err := memory.NewManager(store, wordEstimator{}, memory.ExtractSummarizer{}, opts...)
	require.NoError(t, err)
	return mgr, store
}

func seedSession(t *testing.T, mgr *memory.Manager, turns int) *memory.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)

	for i := 0; i < turns; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		_, err := mgr.AppendTurn(ctx, sess.ID, role, fmt.Sprintf("message number %d.", i), nil)
		require.NoError(t, err)
	}
	return sess
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		turn, err := mgr.AppendTurn(ctx, sess.ID, core.RoleUser, "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, i, turn.Seq)
	}
}

func TestCompressFoldsOldestRun(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.CompressThreshold = 20
	mgr, store := newTestManager(t, cfg)
	ctx := context.Background()

	sess := seedSession(t, mgr, 50)

	did, err := mgr.MaybeCompress(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, did)

	live, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, live, 20)
	assert.Equal(t, 30, live[0].Seq)

	sums, err := store.Summaries(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 0, sums[0].FromSeq)
	assert.Equal(t, 29, sums[0].ToSeq)

	// The raw record is intact.
	all, err := mgr.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, all, 50)
	for i, turn := range all {
		assert.Equal(t, i, turn.Seq)
	}
}

func TestCompressIsIdempotent(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.CompressThreshold = 20
	mgr, store := newTestManager(t, cfg)
	ctx := context.Background()

	sess := seedSession(t, mgr, 50)

	did, err := mgr.MaybeCompress(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, did)

	// A second pass sees 20 live turns and does nothing.
	did, err = mgr.MaybeCompress(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, did)

	sums, err := store.Summaries(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestCompressConcurrent(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.CompressThreshold = 10
	mgr, store := newTestManager(t, cfg)
	ctx := context.Background()

	sess := seedSession(t, mgr, 30)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.MaybeCompress(ctx, sess.ID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sums, err := store.Summaries(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestCompressNoopOnShortSession(t *testing.T) {
	mgr, store := newTestManager(t, nil)
	ctx := context.Background()

	sess := seedSession(t, mgr, 1)
	did, err := mgr.MaybeCompress(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, did)

	sums, err := store.Summaries(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestCompressFallsBackOnSummarizerFailure(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := memory.DefaultConfig()
	cfg.CompressThreshold = 5
	mgr, err := memory.NewManager(store, wordEstimator{}, failingSummarizer{}, memory.WithConfig(cfg))
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err := mgr.AppendTurn(ctx, sess.ID, core.RoleUser, fmt.Sprintf("fact %d.", i), nil)
		require.NoError(t, err)
	}

	did, err := mgr.MaybeCompress(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, did)

	sums, err := store.Summaries(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.NotEmpty(t, sums[0].Content)
}

func TestCompressKeepsTurnsWhenSummarizerFailsHard(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := memory.DefaultConfig()
	cfg.CompressThreshold = 5
	cfg.FallbackExtract = false
	mgr, err := memory.NewManager(store, wordEstimator{}, failingSummarizer{}, memory.WithConfig(cfg))
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err := mgr.AppendTurn(ctx, sess.ID, core.RoleUser, "hello there.", nil)
		require.NoError(t, err)
	}

	_, err = mgr.MaybeCompress(ctx, sess.ID)
	require.Error(t, err)

	// Nothing was folded and nothing was lost.
	live, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, live, 12)
}

func TestViewRespectsBudget(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.CacheSize = 0
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess := seedSession(t, mgr, 12)

	for _, budget := range []int{1, 4, 10, 50, 1000} {
		view, err := mgr.View(ctx, sess.ID, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, view.Size, budget, "budget %d", budget)
	}
}

func TestViewPrefersRecentTurns(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.CacheSize = 0
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess := seedSession(t, mgr, 12)

	// Each turn renders as "user: message number N." which is 4 words.
	view, err := mgr.View(ctx, sess.ID, 12)
	require.NoError(t, err)
	require.Len(t, view.Turns, 3)
	assert.Equal(t, 9, view.Turns[0].Seq)
	assert.Equal(t, 11, view.Turns[2].Seq)
	assert.True(t, view.Truncated)
}

func TestViewIncludesSummariesFirst(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.CompressThreshold = 5
	cfg.CacheSize = 0
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	sess := seedSession(t, mgr, 15)
	did, err := mgr.MaybeCompress(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, did)

	view, err := mgr.View(ctx, sess.ID, 1000)
	require.NoError(t, err)
	require.Len(t, view.Summaries, 1)
	assert.Len(t, view.Turns, 5)
	assert.False(t, view.Empty())
	assert.Contains(t, view.Render(), "[earlier conversation]")
}

func TestViewEmptySession(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)

	view, err := mgr.View(ctx, sess.ID, 100)
	require.NoError(t, err)
	assert.True(t, view.Empty())
	assert.Equal(t, "", view.Render())
}

func TestViewCacheInvalidatedByAppend(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()
	sess := seedSession(t, mgr, 4)

	view, err := mgr.View(ctx, sess.ID, 1000)
	require.NoError(t, err)
	require.Len(t, view.Turns, 4)

	_, err = mgr.AppendTurn(ctx, sess.ID, core.RoleUser, "one more thing.", nil)
	require.NoError(t, err)

	view, err = mgr.View(ctx, sess.ID, 1000)
	require.NoError(t, err)
	assert.Len(t, view.Turns, 5)
}

func TestStoreFailureSurfacesAsStoreError(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)

	mgr, err := memory.NewManager(store, wordEstimator{}, memory.ExtractSummarizer{})
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := mgr.CreateSession(ctx, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	_, err = mgr.AppendTurn(ctx, sess.ID, core.RoleUser, "hello", nil)
	var sErr *core.StoreError
	require.ErrorAs(t, err, &sErr)
}

func TestGetSessionNotFound(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	_, err := mgr.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}
