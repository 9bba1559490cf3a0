// Package embedding provides the Embedder contract of spec.md §4.1: a pure
// mapping text -> fixed-dimension Vector. Two implementations are provided:
// an HTTP-backed one talking to an external embedding service (grounded on
// the teacher's internal/embedding/client.go), and a deterministic local
// one with no network dependency, used in tests.
package embedding

import (
	"context"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// Embedder maps text to a fixed-dimension Vector. Implementations must be
// deterministic for identical input and model identity, produce vectors of
// exactly Dimension() length with finite values. LocalEmbedder does no
// I/O; HTTPEmbedder sends one HTTP request per Embed call. Callers must not retry a
// non-transient failure within the same operation (spec.md §4.1).
type Embedder interface {
	Embed(ctx context.Context, text string) (pattern.Vector, error)
	Dimension() int
}
