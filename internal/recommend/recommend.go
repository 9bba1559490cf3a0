// Package recommend implements the on-device recommendation pipeline of
// spec.md §4.4: embed the viewing context, search the local VectorIndex,
// rank and filter candidates, and return a small ranked list. It is
// grounded on the teacher's retrieval-then-rank pattern in
// internal/rag's search pipeline, generalized to the fixed scoring
// formula this spec requires instead of an LLM re-ranker.
package recommend

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/exogenesis-omega/constellation/internal/embedding"
	"github.com/exogenesis-omega/constellation/internal/pattern"
	"github.com/exogenesis-omega/constellation/internal/vectorindex"
)

// SearchK is the candidate pool size pulled from the index before ranking.
const SearchK = 50

// MinConfidence drops candidates whose similarity falls below this bound.
const MinConfidence = 0.3

// MaxResults caps the final recommendation list.
const MaxResults = 20

// Recommender turns a viewing Context into a ranked Recommendation list.
type Recommender struct {
	embedder embedding.Embedder
	index    *vectorindex.Index
	log      zerolog.Logger
}

// New builds a Recommender over the given embedder and index.
func New(embedder embedding.Embedder, index *vectorindex.Index, log zerolog.Logger) *Recommender {
	return &Recommender{embedder: embedder, index: index, log: log.With().Str("component", "recommender").Logger()}
}

// Recommend runs the full pipeline. Any stage failure yields an empty
// slice, never an error, so callers never need to special-case failure
// (spec.md §4.4).
func (r *Recommender) Recommend(ctx context.Context, contextText string) []pattern.Recommendation {
	query, err := r.embedder.Embed(ctx, contextText)
	if err != nil {
		r.log.Warn().Err(err).Msg("embed context failed, returning empty recommendations")
		return nil
	}

	candidates := r.index.Search(query, SearchK)
	if len(candidates) == 0 {
		return nil
	}

	ranked := rank(candidates)
	filtered := filterByConfidence(ranked)
	deduped := dedup(filtered)
	if len(deduped) > MaxResults {
		deduped = deduped[:MaxResults]
	}
	return deduped
}

func rank(candidates []vectorindex.Result) []pattern.Recommendation {
	out := make([]pattern.Recommendation, 0, len(candidates))
	for _, c := range candidates {
		similarity := 1 - c.Distance/2
		successRate := 0.5
		if sr, ok := c.Metadata["success_rate"].(float64); ok {
			successRate = sr
		}
		title, _ := c.Metadata["title"].(string)
		contentID, _ := c.Metadata["content_id"].(string)
		if contentID == "" {
			contentID = c.ID
		}
		score := 0.6*similarity + 0.4*successRate

		out = append(out, pattern.Recommendation{
			ContentID:    contentID,
			ContentTitle: title,
			Score:        score,
			Confidence:   similarity,
			Reason:       "similar viewing pattern",
		})
	}
	sortByScoreStable(out)
	return out
}

// sortByScoreStable sorts descending by score, preserving input order
// (insertion order in the candidate list) on ties.
func sortByScoreStable(recs []pattern.Recommendation) {
	for i := 1; i < len(recs); i++ {
		j := i
		for j > 0 && recs[j].Score > recs[j-1].Score {
			recs[j], recs[j-1] = recs[j-1], recs[j]
			j--
		}
	}
}

func filterByConfidence(recs []pattern.Recommendation) []pattern.Recommendation {
	out := recs[:0]
	for _, r := range recs {
		if r.Confidence >= MinConfidence {
			out = append(out, r)
		}
	}
	return out
}

func dedup(recs []pattern.Recommendation) []pattern.Recommendation {
	seen := make(map[string]struct{}, len(recs))
	out := make([]pattern.Recommendation, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.ContentID]; ok {
			continue
		}
		seen[r.ContentID] = struct{}{}
		out = append(out, r)
	}
	return out
}
