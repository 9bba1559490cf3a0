package patternstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

func newPattern(successRate float64) pattern.ViewingPattern {
	now := time.Now()
	return pattern.ViewingPattern{
		ID:          pattern.NewID(),
		Embedding:   pattern.Vector{0.1, 0.2, 0.3},
		SuccessRate: successRate,
		SampleCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestRecordIncrementsVersion(t *testing.T) {
	s := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		s.Record(newPattern(0.9))
	}
	require.EqualValues(t, 5, s.Version())
}

func TestRecordMergeWeightedMean(t *testing.T) {
	s := New(DefaultConfig())
	p := newPattern(0.5)
	p.SampleCount = 2
	s.Record(p)

	update := p
	update.SuccessRate = 0.9
	update.SampleCount = 2
	update.UpdatedAt = p.UpdatedAt.Add(time.Second)
	s.Record(update)

	skills := s.SkillPatterns()
	require.Len(t, skills, 1)
	// (0.5*2 + 0.9*2) / 4 = 0.7
	require.InDelta(t, 0.7, skills[0].SuccessRate, 1e-9)
	require.EqualValues(t, 4, skills[0].SampleCount)
	require.True(t, skills[0].SuccessRate >= 0 && skills[0].SuccessRate <= 1)
}

func TestEpisodicTrim(t *testing.T) {
	cfg := Config{EpisodicMax: 10, EpisodicTrim: 3, ReasoningMax: 5, SyncQuality: 0.7}
	s := New(cfg)
	for i := 0; i < 11; i++ {
		s.Record(newPattern(0.9))
	}
	require.Equal(t, 8, s.EpisodeCount()) // 11 - 3 dropped once over cap
	require.Equal(t, 11, s.SkillCount())  // skills unaffected by episodic trim
}

func TestGetChangesSinceFiltersByQuality(t *testing.T) {
	s := New(DefaultConfig())
	high := newPattern(0.9)
	low := newPattern(0.5)
	s.Record(high)
	s.Record(low)

	delta := s.GetChangesSince(pattern.NewID(), 0)
	require.Len(t, delta.PatternsAdded, 1)
	require.Equal(t, high.ID, delta.PatternsAdded[0].ID)
	require.EqualValues(t, 2, delta.LocalVersion)
	require.Empty(t, delta.PatternsUpdate)
	require.Empty(t, delta.PatternsRemove)
}

func TestMergeGlobalTruncatesToReasoningMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReasoningMax = 3
	s := New(cfg)
	for i := 0; i < 5; i++ {
		p := newPattern(float64(i) / 10)
		s.MergeGlobal(p)
	}
	patterns := s.ReasoningPatterns()
	require.Len(t, patterns, 3)
	for i := 1; i < len(patterns); i++ {
		require.True(t, patterns[i-1].SuccessRate >= patterns[i].SuccessRate)
	}
}
