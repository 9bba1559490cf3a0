package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// LocalEmbedder is a deterministic, dependency-free Embedder used by tests;
// it needs no remote embedding endpoint.
// It hashes overlapping trigrams of the input text into a fixed number of
// buckets and L2-normalizes the result, giving semantically meaningless
// but stable and well-distributed vectors: identical text always maps to
// the identical vector, and unrelated text maps to near-orthogonal
// vectors with high probability.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder returns a LocalEmbedder producing vectors of dim
// length.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = pattern.Dimension
	}
	return &LocalEmbedder{dim: dim}
}

// Dimension returns the configured output width.
func (e *LocalEmbedder) Dimension() int { return e.dim }

// Embed deterministically maps text to a unit-length Vector. It never
// fails: an empty string yields the zero vector.
func (e *LocalEmbedder) Embed(_ context.Context, text string) (pattern.Vector, error) {
	v := make(pattern.Vector, e.dim)
	if text == "" {
		return v, nil
	}

	runes := []rune(text)
	grams := trigrams(runes)
	for _, g := range grams {
		h := fnv.New64a()
		_, _ = h.Write([]byte(g))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		v[bucket] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}

func trigrams(runes []rune) []string {
	if len(runes) < 3 {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
