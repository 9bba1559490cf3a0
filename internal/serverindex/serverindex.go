// Package serverindex implements the persistent, server-side vector store
// of spec.md §4.9: the contract is backend-agnostic, with pluggable
// postgres+pgvector, Qdrant, and in-memory implementations, grounded on
// the teacher's internal/persistence/databases VectorStore family
// (postgres_vector.go, qdrant_vector.go, memory_vector.go) generalized
// from a generic embeddings table to device-owned ViewingPatterns with
// the weighted-merge update rule and the two-mode similar_patterns query.
package serverindex

import (
	"context"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// Index is the server-side persistent vector store contract of
// spec.md §4.9.
type Index interface {
	// Store upserts each pattern, owned by deviceID, keyed by PatternId.
	Store(ctx context.Context, deviceID pattern.ID, patterns []pattern.ViewingPattern) error

	// Update applies the weighted-merge rule to an existing pattern; a
	// no-op if patternID is absent.
	Update(ctx context.Context, patternID pattern.ID, newRate float64, extraSamples uint64) error

	// Remove deletes a pattern by id; not an error if absent.
	Remove(ctx context.Context, patternID pattern.ID) error

	// SimilarPatterns implements the two-mode query of spec.md §4.9: when
	// deviceID owns at least one pattern, it ranks by cosine distance to
	// the element-wise mean of the device's vectors, among patterns owned
	// by other devices with success_rate >= 0.8; otherwise it falls back
	// to patterns with success_rate >= 0.9 (Memory and Postgres order them
	// by success_rate, then sample_count; Qdrant does not order them).
	SimilarPatterns(ctx context.Context, deviceID pattern.ID, k int) ([]pattern.ViewingPattern, error)

	// DeviceCount returns how many patterns deviceID currently owns.
	DeviceCount(ctx context.Context, deviceID pattern.ID) (int, error)

	// TotalCount returns the total number of stored patterns.
	TotalCount(ctx context.Context) (int, error)

	// Collect selects up to limit patterns meeting the given quality floor,
	// for the federation round's per-shard collection step (spec.md §4.11).
	Collect(ctx context.Context, minSuccessRate float64, minSampleCount uint64, limit int) ([]pattern.ViewingPattern, error)
}

// ColdStartQuality is the success_rate floor used for the cold-start
// (no-device-history) branch of SimilarPatterns.
const ColdStartQuality = 0.9

// WarmQuality is the success_rate floor used once a device has history.
const WarmQuality = 0.8
