package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/exogenesis-omega/constellation/internal/codec"
	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

func TestPrepareDeltaFiltersByThresholds(t *testing.T) {
	c := New("http://unused", pattern.NewID(), nil)
	high := pattern.ViewingPattern{ID: pattern.NewID(), SuccessRate: 0.9, SampleCount: 20}
	lowRate := pattern.ViewingPattern{ID: pattern.NewID(), SuccessRate: 0.5, SampleCount: 20}
	lowSamples := pattern.ViewingPattern{ID: pattern.NewID(), SuccessRate: 0.9, SampleCount: 2}

	delta := c.PrepareDelta([]pattern.ViewingPattern{high, lowRate, lowSamples})
	require.Len(t, delta.PatternsAdded, 1)
	require.Equal(t, high.ID, delta.PatternsAdded[0].ID)
	require.EqualValues(t, 1, delta.LocalVersion)
}

func TestSyncRoundTripUpdatesLastSyncVersion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("X-Device-ID"))
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		globals := pattern.Globals{GlobalVersion: 99}
		b, err := codec.EncodeGlobals(globals)
		require.NoError(t, err)
		w.Write(b)
	}))
	defer ts.Close()

	c := New(ts.URL, pattern.NewID(), ts.Client())
	globals, err := c.Sync(context.Background(), pattern.Delta{LocalVersion: 1})
	require.NoError(t, err)
	require.EqualValues(t, 99, globals.GlobalVersion)
	require.EqualValues(t, 99, c.lastSyncVersionSnapshot())
}

func TestSyncFailsFastOnOverlap(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		b, _ := codec.EncodeGlobals(pattern.Globals{GlobalVersion: 1})
		w.Write(b)
	}))
	defer ts.Close()

	c := New(ts.URL, pattern.NewID(), ts.Client())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Sync(context.Background(), pattern.Delta{LocalVersion: 1})
	}()
	time.Sleep(50 * time.Millisecond) // let the first sync acquire the busy flag

	_, err := c.Sync(context.Background(), pattern.Delta{LocalVersion: 2})
	require.ErrorIs(t, err, errs.ErrSyncInFlight)

	close(release)
	wg.Wait()
}

func TestSyncNonOKStatusIsProtocolError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	c := New(ts.URL, pattern.NewID(), ts.Client())
	_, err := c.Sync(context.Background(), pattern.Delta{LocalVersion: 1})
	require.ErrorIs(t, err, errs.ErrProtocolError)
}

func TestNeedsSyncComparesVersions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version": 42}`))
	}))
	defer ts.Close()

	c := New(ts.URL, pattern.NewID(), ts.Client())
	needs, err := c.NeedsSync(context.Background())
	require.NoError(t, err)
	require.True(t, needs)
}

func TestHealthCheckSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, pattern.NewID(), ts.Client())
	require.NoError(t, c.HealthCheck(context.Background()))
}
