package profile

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalEmbedder is a deterministic, dependency-free embedder: it hashes word
// tokens into a fixed number of buckets and L2-normalizes the counts. Texts
// sharing vocabulary land near each other, which is enough for recalling a
// user's own short preference facts. Swap in a model-backed Embedder for real
// semantic search.
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder builds the embedder. Dimensions below 16 are raised to 16.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims < 16 {
		dims = 16
	}
	return &LocalEmbedder{dims: dims}
}

func (e *LocalEmbedder) Dimensions() int { return e.dims }

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Zero vectors break cosine distance; give empty text a fixed
		// direction instead.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
