package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

const summarizerSystem = "You summarize conversation transcripts. Write one compact paragraph " +
	"preserving every concrete fact the user stated about their business, audience, goals, and " +
	"preferences. Omit pleasantries."

// LLMSummarizer folds turns through a language model.
type LLMSummarizer struct {
	llm services.LLMService
}

// NewLLMSummarizer builds a model-backed summarizer.
func NewLLMSummarizer(llm services.LLMService) *LLMSummarizer {
	return &LLMSummarizer{llm: llm}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, turns []core.Turn) (string, error) {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	out, err := s.llm.Complete(ctx, b.String(), services.CompleteOptions{
		System:    summarizerSystem,
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ExtractSummarizer is the deterministic fallback: it keeps the first
// sentence of every user turn, which tends to carry the facts.
type ExtractSummarizer struct{}

func (ExtractSummarizer) Summarize(_ context.Context, turns []core.Turn) (string, error) {
	return extractSummary(turns), nil
}

func extractSummary(turns []core.Turn) string {
	var parts []string
	for _, t := range turns {
		if t.Role != core.RoleUser {
			continue
		}
		parts = append(parts, firstSentence(t.Content))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Earlier exchange of %d messages with no user statements.", len(turns))
	}
	return "The user said: " + strings.Join(parts, " ")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return s[:i+1]
		}
	}
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}
