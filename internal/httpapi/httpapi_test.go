package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/exogenesis-omega/constellation/internal/codec"
	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

type fakeManager struct {
	syncErr   error
	globals   pattern.Globals
	state     pattern.DeviceState
	hasState  bool
	statsData map[string]any
}

func (f *fakeManager) HandleSync(ctx context.Context, deviceID pattern.ID, delta pattern.Delta) (pattern.Globals, error) {
	return f.globals, f.syncErr
}

func (f *fakeManager) DeviceState(ctx context.Context, id pattern.ID) (pattern.DeviceState, bool) {
	return f.state, f.hasState
}

func (f *fakeManager) Stats(ctx context.Context) map[string]any {
	return f.statsData
}

func newServer(m ShardManager) *echo.Echo {
	e := echo.New()
	New(m, zerolog.Nop()).Register(e)
	return e
}

func TestHandleSyncRoundTrip(t *testing.T) {
	globals := pattern.Globals{GlobalVersion: 7}
	e := newServer(&fakeManager{globals: globals})

	delta := pattern.Delta{DeviceID: pattern.NewID(), LocalVersion: 1}
	body, err := codec.EncodeDelta(delta)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(body))
	req.Header.Set("X-Device-ID", delta.DeviceID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	decoded, err := codec.DecodeGlobals(rec.Body.Bytes())
	require.NoError(t, err)
	require.EqualValues(t, 7, decoded.GlobalVersion)
}

func TestHandleSyncMissingDeviceHeader(t *testing.T) {
	e := newServer(&fakeManager{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncOversizedBodyRejected(t *testing.T) {
	e := newServer(&fakeManager{})
	oversized := bytes.Repeat([]byte{0xAB}, codec.MaxDeltaCompressed+1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(oversized))
	req.Header.Set("X-Device-ID", pattern.NewID().String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleSyncShardOverloadMapsTo503(t *testing.T) {
	e := newServer(&fakeManager{syncErr: errs.ErrShardOverload})
	delta := pattern.Delta{DeviceID: pattern.NewID(), LocalVersion: 1}
	body, _ := codec.EncodeDelta(delta)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(body))
	req.Header.Set("X-Device-ID", delta.DeviceID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSyncVersionUnknownDeviceReturnsZero(t *testing.T) {
	e := newServer(&fakeManager{hasState: false})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/version", nil)
	req.Header.Set("X-Device-ID", pattern.NewID().String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":0}`, rec.Body.String())
}

func TestHandleSyncVersionKnownDevice(t *testing.T) {
	e := newServer(&fakeManager{hasState: true, state: pattern.DeviceState{LocalVersion: 42}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/version", nil)
	req.Header.Set("X-Device-ID", pattern.NewID().String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.JSONEq(t, `{"version":42}`, rec.Body.String())
}

func TestHandleHealthReturns200(t *testing.T) {
	e := newServer(&fakeManager{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStatsReturnsManagerData(t *testing.T) {
	e := newServer(&fakeManager{statsData: map[string]any{"shard_id": "s1"}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.JSONEq(t, `{"shard_id":"s1"}`, rec.Body.String())
}
