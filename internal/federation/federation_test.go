package federation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/exogenesis-omega/constellation/internal/pattern"
	"github.com/exogenesis-omega/constellation/internal/serverindex"
)

func samplePattern(vec pattern.Vector, rate float64, samples uint64, genre string) pattern.ViewingPattern {
	now := time.Now()
	return pattern.ViewingPattern{
		ID: pattern.NewID(), Embedding: vec, SuccessRate: rate, SampleCount: samples,
		Context:   pattern.Context{GenreHints: []string{genre}},
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestRoundAggregatesAndRedistributes(t *testing.T) {
	idxA := serverindex.NewMemory()
	idxB := serverindex.NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()

	// All three share a quantized pattern key (identical embeddings), so
	// they form one candidate group spanning both shards.
	vec := pattern.Vector{0.9, 0.1}
	require.NoError(t, idxA.Store(ctx, dev, []pattern.ViewingPattern{
		samplePattern(vec, 0.9, 10, "action"),
		samplePattern(vec, 0.85, 8, "action"),
	}))
	require.NoError(t, idxB.Store(ctx, dev, []pattern.ViewingPattern{
		samplePattern(vec, 0.88, 9, "action"),
	}))

	shards := []Shard{{Index: idxA, Region: "us"}, {Index: idxB, Region: "eu"}}
	coord := New(shards, "federation.rounds", nil, zerolog.Nop())

	require.NoError(t, coord.Round(ctx))

	totalA, _ := idxA.TotalCount(ctx)
	totalB, _ := idxB.TotalCount(ctx)
	require.Equal(t, 3, totalA) // 2 original + 1 redistributed aggregate
	require.Equal(t, 2, totalB) // 1 original + 1 redistributed aggregate

	// A second round over the same sources must upsert the same
	// genre-keyed global row rather than append a new one.
	require.NoError(t, coord.Round(ctx))
	totalA2, _ := idxA.TotalCount(ctx)
	totalB2, _ := idxB.TotalCount(ctx)
	require.Equal(t, totalA, totalA2)
	require.Equal(t, totalB, totalB2)
}

func TestGlobalPatternIDIsDeterministicPerGenre(t *testing.T) {
	require.Equal(t, globalPatternID("action"), globalPatternID("action"))
	require.NotEqual(t, globalPatternID("action"), globalPatternID("comedy"))
}

func TestGroupUndersizedGroupsAreDropped(t *testing.T) {
	patterns := []pattern.ViewingPattern{
		samplePattern(pattern.Vector{1, 0}, 0.9, 10, "comedy"),
		samplePattern(pattern.Vector{1, 0}, 0.9, 10, "comedy"),
	}
	groups := group(patterns)
	aggregated := aggregate(groups)
	require.Empty(t, aggregated) // group of 2 < MinGroupSize (3)
}

func TestAggregateComputesWeightedAverageAndQuality(t *testing.T) {
	patterns := []pattern.ViewingPattern{
		samplePattern(pattern.Vector{1, 0}, 0.9, 10, "action"),
		samplePattern(pattern.Vector{1, 0}, 0.85, 8, "action"),
		samplePattern(pattern.Vector{1, 0}, 0.88, 9, "action"),
	}
	groups := group(patterns)
	require.Len(t, groups, 1)

	aggregated := aggregate(groups)
	require.Len(t, aggregated, 1)
	a := aggregated[0]
	require.Equal(t, 3, a.SourceCount)
	require.InDelta(t, (0.9+0.85+0.88)/3, a.AvgSuccessRate, 1e-9)
	require.InDelta(t, (0.9*10+0.85*8+0.88*9)/3, a.Quality, 1e-9)
	require.InDelta(t, 1.0, a.Embedding[0], 1e-6) // all vectors identical on axis 0
	require.Equal(t, "action", a.Genre())
}

func TestDetectTrendsRanksByScoreDescending(t *testing.T) {
	aggregated := []AggregatedPattern{
		{Quality: 1.0, AvgSuccessRate: 0.9, SampleContexts: []pattern.Context{{GenreHints: []string{"drama"}}}},
		{Quality: 0.5, AvgSuccessRate: 0.8, SampleContexts: []pattern.Context{{GenreHints: []string{"comedy"}}}},
	}
	signals := detectTrends(aggregated)
	require.Len(t, signals, 2)
	require.Equal(t, "drama", signals[0].ContentID)
	require.Equal(t, "global", signals[0].Region)
}

func TestRoundSkipsEmptyCollectionWithoutError(t *testing.T) {
	idx := serverindex.NewMemory()
	coord := New([]Shard{{Index: idx, Region: "us"}}, "t", nil, zerolog.Nop())
	require.NoError(t, coord.Round(context.Background()))
}
