// Package trend implements the TrendAggregator of spec.md §4.10: grouping
// high-quality patterns by canonical genre within a region and ranking by
// summed success rate.
package trend

import (
	"sort"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// MinQuality is the success_rate floor a pattern must meet to count
// towards a trend.
const MinQuality = 0.8

// Top groups patterns by canonical genre (pattern.Context.Genre()),
// keeping only those with SuccessRate >= MinQuality, and returns the top k
// TrendSignals by descending trending_score (the group's summed success
// rate, per spec.md §4.10's simplified formula n·(S/n) = S).
func Top(patterns []pattern.ViewingPattern, region string, k int) []pattern.TrendSignal {
	if k <= 0 {
		return nil
	}

	scores := make(map[string]float64)
	order := make([]string, 0)
	for _, p := range patterns {
		if p.SuccessRate < MinQuality {
			continue
		}
		genre := p.Context.Genre()
		if _, ok := scores[genre]; !ok {
			order = append(order, genre)
		}
		scores[genre] += p.SuccessRate
	}

	signals := make([]pattern.TrendSignal, 0, len(order))
	for _, genre := range order {
		signals = append(signals, pattern.TrendSignal{
			ContentID:     genre,
			TrendingScore: scores[genre],
			Region:        region,
		})
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].TrendingScore > signals[j].TrendingScore
	})
	if len(signals) > k {
		signals = signals[:k]
	}
	return signals
}
