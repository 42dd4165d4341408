package memory

import (
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// CharEstimator approximates token counts from text length alone, taking the
// larger of bytes/3 and runes/2. It deliberately overestimates a little so
// budget-bounded views err on the small side. Cheap and good enough for
// budgeting.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byRunes > byBytes {
		return byRunes
	}
	if byBytes < 1 {
		return 1
	}
	return byBytes
}

// TokenEstimator counts real BPE tokens. Slower than CharEstimator but exact
// for models using the cl100k vocabulary.
type TokenEstimator struct {
	codec tokenizer.Codec
}

// NewTokenEstimator loads the embedded cl100k vocabulary.
func NewTokenEstimator() (*TokenEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &TokenEstimator{codec: codec}, nil
}

func (e *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	n, err := e.codec.Count(text)
	if err != nil {
		return CharEstimator{}.Estimate(text)
	}
	return n
}
