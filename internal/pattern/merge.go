package pattern

import "time"

// MergeWeighted applies the spec.md §3 merge rule: the merged sample count
// is the sum of both counts, and the merged success rate is the
// sample-weighted mean of the two. Embedding and Context are taken from
// incoming (the newer observation); UpdatedAt is the later of the two.
func MergeWeighted(existing, incoming ViewingPattern) ViewingPattern {
	nNew := existing.SampleCount + incoming.SampleCount
	var rNew float64
	if nNew > 0 {
		rNew = (existing.SuccessRate*float64(existing.SampleCount) + incoming.SuccessRate*float64(incoming.SampleCount)) / float64(nNew)
	}

	merged := existing
	merged.SuccessRate = rNew
	merged.SampleCount = nNew
	merged.Embedding = incoming.Embedding
	merged.Context = incoming.Context
	if incoming.ContentID != "" {
		merged.ContentID = incoming.ContentID
	}
	if incoming.ContentTitle != "" {
		merged.ContentTitle = incoming.ContentTitle
	}
	if incoming.UpdatedAt.After(existing.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
	} else {
		merged.UpdatedAt = existing.UpdatedAt
	}
	merged.Clamp()
	return merged
}

// ApplyUpdate folds a PatternUpdate into an existing pattern using the same
// weighted-merge rule, treating the update as an incoming observation with
// NewSuccessRate and AdditionalSamples, timestamped at.
func ApplyUpdate(existing ViewingPattern, u PatternUpdate, at time.Time) ViewingPattern {
	incoming := ViewingPattern{
		SuccessRate: u.NewSuccessRate,
		SampleCount: u.AdditionalSamples,
		Embedding:   existing.Embedding,
		Context:     existing.Context,
		UpdatedAt:   at,
	}
	return MergeWeighted(existing, incoming)
}
