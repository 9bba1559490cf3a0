package serverindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

func newViewingPattern(vec pattern.Vector, successRate float64) pattern.ViewingPattern {
	now := time.Now()
	return pattern.ViewingPattern{
		ID:          pattern.NewID(),
		Embedding:   vec,
		SuccessRate: successRate,
		SampleCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryStoreAndDeviceCount(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()
	p1 := newViewingPattern(pattern.Vector{1, 0, 0}, 0.9)
	p2 := newViewingPattern(pattern.Vector{0, 1, 0}, 0.9)

	require.NoError(t, idx.Store(ctx, dev, []pattern.ViewingPattern{p1, p2}))

	n, err := idx.DeviceCount(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	total, err := idx.TotalCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestMemoryUpdateAppliesWeightedMerge(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()
	p := newViewingPattern(pattern.Vector{1, 0, 0}, 0.5)
	p.SampleCount = 2
	require.NoError(t, idx.Store(ctx, dev, []pattern.ViewingPattern{p}))

	require.NoError(t, idx.Update(ctx, p.ID, 0.9, 2))

	n, err := idx.DeviceCount(ctx, dev)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, err := idx.Collect(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// (0.5*2 + 0.9*2) / 4 = 0.7
	require.InDelta(t, 0.7, out[0].SuccessRate, 1e-9)
	require.EqualValues(t, 4, out[0].SampleCount)
}

func TestMemoryUpdateAbsentIsNoOp(t *testing.T) {
	idx := NewMemory()
	require.NoError(t, idx.Update(context.Background(), pattern.NewID(), 0.9, 1))
}

func TestMemoryRemove(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()
	p := newViewingPattern(pattern.Vector{1, 0, 0}, 0.9)
	require.NoError(t, idx.Store(ctx, dev, []pattern.ViewingPattern{p}))
	require.NoError(t, idx.Remove(ctx, p.ID))
	n, _ := idx.DeviceCount(ctx, dev)
	require.Equal(t, 0, n)
}

func TestMemorySimilarPatternsWarmPath(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()
	other := pattern.NewID()

	require.NoError(t, idx.Store(ctx, dev, []pattern.ViewingPattern{newViewingPattern(pattern.Vector{1, 0, 0}, 0.9)}))
	close1 := newViewingPattern(pattern.Vector{1, 0, 0}, 0.85)
	far := newViewingPattern(pattern.Vector{-1, 0, 0}, 0.85)
	lowQuality := newViewingPattern(pattern.Vector{1, 0, 0}, 0.5)
	require.NoError(t, idx.Store(ctx, other, []pattern.ViewingPattern{close1, far, lowQuality}))

	results, err := idx.SimilarPatterns(ctx, dev, 10)
	require.NoError(t, err)
	ids := make(map[pattern.ID]bool)
	for _, r := range results {
		ids[r.ID] = true
	}
	require.True(t, ids[close1.ID])
	require.False(t, ids[lowQuality.ID])
	require.Equal(t, close1.ID, results[0].ID)
}

func TestMemoryCollectFiltersByQualityAndSamples(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()

	eligible := newViewingPattern(pattern.Vector{1, 0, 0}, 0.9)
	eligible.SampleCount = 5
	lowRate := newViewingPattern(pattern.Vector{0, 1, 0}, 0.5)
	lowRate.SampleCount = 5
	lowSamples := newViewingPattern(pattern.Vector{0, 0, 1}, 0.9)
	lowSamples.SampleCount = 1
	require.NoError(t, idx.Store(ctx, dev, []pattern.ViewingPattern{eligible, lowRate, lowSamples}))

	out, err := idx.Collect(ctx, 0.8, 5, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, eligible.ID, out[0].ID)
}

func TestMemoryCollectRespectsLimit(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	dev := pattern.NewID()
	for i := 0; i < 5; i++ {
		p := newViewingPattern(pattern.Vector{1, 0, 0}, 0.9)
		p.SampleCount = 10
		require.NoError(t, idx.Store(ctx, dev, []pattern.ViewingPattern{p}))
	}
	out, err := idx.Collect(ctx, 0.8, 5, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestMemorySimilarPatternsColdStartPath(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()
	other := pattern.NewID()

	high := newViewingPattern(pattern.Vector{1, 0, 0}, 0.95)
	high.SampleCount = 10
	mid := newViewingPattern(pattern.Vector{0, 1, 0}, 0.9)
	mid.SampleCount = 20
	low := newViewingPattern(pattern.Vector{0, 0, 1}, 0.8)
	require.NoError(t, idx.Store(ctx, other, []pattern.ViewingPattern{high, mid, low}))

	results, err := idx.SimilarPatterns(ctx, pattern.NewID(), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, high.ID, results[0].ID)
}
