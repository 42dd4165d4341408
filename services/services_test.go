package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedLLMPlaysEveryRole(t *testing.T) {
	llm := NewScriptedLLM()
	ctx := context.Background()

	roles := map[string]string{
		"You are a marketing discovery consultant.": "business_description",
		"You are a brand analyst.":                  "brand_voice",
		"You are a marketing strategy planner.":     "platforms",
		"You are a social media content creator.":   "posts",
		"You are a campaign review assistant.":      "stage_complete",
	}
	for system, marker := range roles {
		out, err := llm.Complete(ctx, "hello", CompleteOptions{System: system})
		require.NoError(t, err)
		assert.Contains(t, out, "```yaml", system)
		assert.Contains(t, out, marker, system)
	}
	assert.Equal(t, len(roles), llm.Calls())
}

func TestScriptedLLMSummarizes(t *testing.T) {
	llm := NewScriptedLLM()

	out, err := llm.Complete(context.Background(), "user: hi\nassistant: hello", CompleteOptions{
		System: "Summarize the following conversation.",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "```")
	assert.Contains(t, out, "campaign")
}

func TestStaticImageReturnsDemoRef(t *testing.T) {
	img := NewStaticImage()

	got, err := img.Generate(context.Background(), ImageRequest{Prompt: "latte art close-up", Platform: "instagram"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.URL, "demo://"))
	assert.Equal(t, 1080, got.Width)
	assert.Equal(t, 1080, got.Height)
}

func TestURLImageBuildsRenderURL(t *testing.T) {
	img := NewURLImage("")

	got, err := img.Generate(context.Background(), ImageRequest{
		Prompt:   "cozy cafe interior",
		Style:    "photographic",
		Platform: "facebook",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.URL, DefaultImageBaseURL+"/"), got.URL)
	assert.Contains(t, got.URL, "width=1200")
	assert.Contains(t, got.URL, "height=630")
	assert.Contains(t, got.URL, "nologo=true")
	assert.NotContains(t, got.URL, " ")
	assert.Equal(t, 1200, got.Width)
	assert.Equal(t, 630, got.Height)
}

func TestURLImageRejectsEmptyPrompt(t *testing.T) {
	img := NewURLImage("")

	_, err := img.Generate(context.Background(), ImageRequest{Platform: "instagram"})
	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "url-image", pErr.Provider)
}

func TestHTTPImageGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mountain sunrise", req["prompt"])
		assert.EqualValues(t, 1080, req["width"])
		assert.EqualValues(t, 1920, req["height"])

		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/img.png"})
	}))
	defer srv.Close()

	img := NewHTTPImage(srv.URL, "secret")
	got, err := img.Generate(context.Background(), ImageRequest{Prompt: "mountain sunrise", Platform: "tiktok"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img.png", got.URL)
	assert.Equal(t, 1080, got.Width)
	assert.Equal(t, 1920, got.Height)
}

func TestHTTPImageRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	img := NewHTTPImage(srv.URL, "")
	_, err := img.Generate(context.Background(), ImageRequest{Prompt: "anything"})

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.True(t, IsRateLimit(err))
}

func TestHTTPImageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	img := NewHTTPImage(srv.URL, "")
	_, err := img.Generate(context.Background(), ImageRequest{Prompt: "anything"})

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusBadGateway, pErr.Status)
	assert.False(t, IsRateLimit(err))
}

func TestHTTPImageMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	img := NewHTTPImage(srv.URL, "")
	_, err := img.Generate(context.Background(), ImageRequest{Prompt: "anything"})

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
}

func TestPlatformSizeDefaultsSquare(t *testing.T) {
	w, h := PlatformSize("myspace")
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1024, h)
}

func TestProviderErrorUnwraps(t *testing.T) {
	root := errors.New("connection refused")
	err := &ProviderError{Provider: "anthropic", Op: "complete", Status: 500, Err: root}

	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "anthropic")
	assert.Contains(t, err.Error(), "complete")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("1.5"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	assert.InDelta(t, float64(90*time.Second), float64(parseRetryAfter(future)), float64(2*time.Second))

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}
