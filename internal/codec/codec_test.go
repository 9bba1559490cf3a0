package codec

import (
	"bytes"
	"encoding/gob"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

func sampleDelta() pattern.Delta {
	now := time.Now().Truncate(time.Second).UTC()
	return pattern.Delta{
		DeviceID: pattern.NewID(),
		PatternsAdded: []pattern.ViewingPattern{
			{
				ID:          pattern.NewID(),
				Embedding:   pattern.Vector{0.1, 0.2, 0.3, 0.4},
				SuccessRate: 0.8,
				SampleCount: 3,
				CreatedAt:   now,
				UpdatedAt:   now,
				ContentID:   "movie-1",
			},
		},
		LocalVersion: 42,
		Timestamp:    now,
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	d := sampleDelta()
	b, err := EncodeDelta(d)
	require.NoError(t, err)

	got, err := DecodeDelta(b)
	require.NoError(t, err)
	require.Equal(t, d.DeviceID, got.DeviceID)
	require.Equal(t, d.LocalVersion, got.LocalVersion)
	require.Len(t, got.PatternsAdded, 1)
	require.Equal(t, d.PatternsAdded[0].ID, got.PatternsAdded[0].ID)
	require.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 0.4}, toFloat64(got.PatternsAdded[0].Embedding), 1e-6)
}

func toFloat64(v pattern.Vector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestDecodeDeltaRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, MaxDeltaCompressed+1)
	_, err := DecodeDelta(big)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrCompressionLimit))
}

func TestGlobalsRoundTrip(t *testing.T) {
	g := pattern.Globals{
		Similar: []pattern.ViewingPattern{{ID: pattern.NewID(), Embedding: pattern.Vector{1, 2, 3}}},
		Trending: []pattern.TrendSignal{
			{ContentID: "c1", TrendingScore: 0.9, Region: "us-east"},
		},
		GlobalVersion: 7,
	}
	b, err := EncodeGlobals(g)
	require.NoError(t, err)

	got, err := DecodeGlobals(b)
	require.NoError(t, err)
	require.Equal(t, g.GlobalVersion, got.GlobalVersion)
	require.Len(t, got.Trending, 1)
	require.Equal(t, g.Trending[0].ContentID, got.Trending[0].ContentID)
}

func TestDecodeGlobalsRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, MaxGlobalCompressed+1)
	_, err := DecodeGlobals(big)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrCompressionLimit))
}

func TestDecodeDeltaRejectsGarbage(t *testing.T) {
	_, err := DecodeDelta([]byte("not a valid payload"))
	require.Error(t, err)
}

func TestEncodeDeltaRejectsOversizedResult(t *testing.T) {
	d := sampleDelta()
	for i := 0; i < 5000; i++ {
		p := d.PatternsAdded[0]
		p.ID = pattern.NewID()
		p.ContentTitle = "a very long and mostly unique content title to defeat compression " + p.ID.String()
		d.PatternsAdded = append(d.PatternsAdded, p)
	}

	_, err := EncodeDelta(d)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.ErrCompressionLimit))
}

func TestCompressionRatioOnRealisticDelta(t *testing.T) {
	d := sampleDelta()
	for i := 0; i < 50; i++ {
		p := d.PatternsAdded[0]
		p.ID = pattern.NewID()
		d.PatternsAdded = append(d.PatternsAdded, p)
	}

	var rawBuf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&rawBuf).Encode(d))

	compressed, err := EncodeDelta(d)
	require.NoError(t, err)
	require.GreaterOrEqual(t, float64(rawBuf.Len())/float64(len(compressed)), 3.0)
}
