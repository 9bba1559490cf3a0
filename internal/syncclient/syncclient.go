// Package syncclient implements the device-side SyncClient of
// spec.md §4.7: preparing a delta from local patterns, compressing and
// POSTing it to the constellation, and polling for remote version
// changes. Grounded on the teacher's HTTP client conventions
// (internal/observability/httpclient.go, internal/llm/openai_client.go:
// context-scoped timeouts, explicit header construction, status-code
// checks before decoding).
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/exogenesis-omega/constellation/internal/codec"
	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// MinSuccessRate and MinSampleCount are the reserved thresholds a pattern
// must clear to be included in a prepared delta (spec.md §4.7, §9).
const (
	MinSuccessRate = 0.7
	MinSampleCount = 10
	SyncTimeout    = 30 * time.Second
)

// Client is the device-side sync client. A single instance serializes its
// own outstanding sync: overlapping Sync calls fast-fail with
// ErrSyncInFlight rather than serialize silently, per spec.md §4.7's
// backpressure requirement.
type Client struct {
	baseURL         string
	deviceID        pattern.ID
	httpClient      *http.Client
	lastSyncVersion uint64

	mu   sync.Mutex
	busy bool
}

// New builds a Client targeting baseURL (e.g. "https://constellation.example.com").
func New(baseURL string, deviceID pattern.ID, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: SyncTimeout}
	}
	return &Client{baseURL: baseURL, deviceID: deviceID, httpClient: httpClient}
}

// PrepareDelta filters patterns to those meeting both reserved thresholds,
// attaches device identity, and bumps the version past the client's last
// known sync version (spec.md §4.7).
func (c *Client) PrepareDelta(patterns []pattern.ViewingPattern) pattern.Delta {
	added := make([]pattern.ViewingPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.SuccessRate >= MinSuccessRate && p.SampleCount >= MinSampleCount {
			added = append(added, p)
		}
	}
	return pattern.Delta{
		DeviceID:      c.deviceID,
		PatternsAdded: added,
		LocalVersion:  c.lastSyncVersionSnapshot() + 1,
		Timestamp:     time.Now(),
	}
}

func (c *Client) lastSyncVersionSnapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncVersion
}

// Sync compresses delta, POSTs it to /api/v1/sync, and decodes the
// server's Globals response. A sync already in flight fails fast with
// ErrSyncInFlight rather than queuing (spec.md §4.7, §5).
func (c *Client) Sync(ctx context.Context, delta pattern.Delta) (pattern.Globals, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return pattern.Globals{}, errs.ErrSyncInFlight
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	body, err := codec.EncodeDelta(delta)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("syncclient: encode delta: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, SyncTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+"/api/v1/sync", bytes.NewReader(body))
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("syncclient: build request: %w", err)
	}
	req.Header.Set("X-Device-ID", c.deviceID.String())
	req.Header.Set("X-Sync-Version", strconv.FormatUint(delta.LocalVersion, 10))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("syncclient: request failed: %w", errWrap(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("syncclient: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return pattern.Globals{}, fmt.Errorf("syncclient: server returned %s: %w", resp.Status, errs.ErrProtocolError)
	}

	globals, err := codec.DecodeGlobals(respBody)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("syncclient: decode response: %w", err)
	}

	c.mu.Lock()
	c.lastSyncVersion = globals.GlobalVersion
	c.mu.Unlock()

	return globals, nil
}

func errWrap(err error) error {
	return fmt.Errorf("%w: %w", err, errs.ErrTransportFailure)
}

// NeedsSync reports whether the server's version is ahead of the client's
// last known sync version.
func (c *Client) NeedsSync(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, SyncTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.baseURL+"/api/v1/sync/version", nil)
	if err != nil {
		return false, fmt.Errorf("syncclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("syncclient: request failed: %w", errWrap(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("syncclient: version check returned %s: %w", resp.Status, errs.ErrProtocolError)
	}

	var payload struct {
		Version uint64 `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("syncclient: decode version: %w", err)
	}
	return payload.Version > c.lastSyncVersionSnapshot(), nil
}

// HealthCheck verifies the constellation endpoint is serving.
func (c *Client) HealthCheck(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, SyncTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("syncclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("syncclient: request failed: %w", errWrap(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("syncclient: health check returned %s: %w", resp.Status, errs.ErrProtocolError)
	}
	return nil
}
