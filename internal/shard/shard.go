package shard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/exogenesis-omega/constellation/internal/errs"
	"github.com/exogenesis-omega/constellation/internal/pattern"
	"github.com/exogenesis-omega/constellation/internal/serverindex"
	"github.com/exogenesis-omega/constellation/internal/trend"
)

// TrendSourceLimit bounds how many high-quality patterns HandleSync pulls
// from the ServerIndex per sync to compute trending signals.
const TrendSourceLimit = 1000

// Config holds the ShardManager's identity and tunables.
type Config struct {
	ShardID          string
	Region           string
	MaxDevices       int
	QualityThreshold float64
}

// Manager is the server-side ShardManager of spec.md §4.8. Per-device
// handling is serialized by a striped mutex-per-device map, grounded on
// the teacher's services.go servicesMutex pattern generalized so unrelated
// devices don't serialize on each other.
type Manager struct {
	cfg Config

	index serverindex.Index
	cache *DeviceCache

	devicesMu sync.RWMutex
	devices   map[pattern.ID]pattern.DeviceState

	stripesMu sync.Mutex
	stripes   map[pattern.ID]*sync.Mutex

	log zerolog.Logger
}

// New builds a Manager over an already-constructed ServerIndex and
// DeviceCache.
func New(cfg Config, index serverindex.Index, cache *DeviceCache, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		index:   index,
		cache:   cache,
		devices: make(map[pattern.ID]pattern.DeviceState),
		stripes: make(map[pattern.ID]*sync.Mutex),
		log:     log.With().Str("component", "shard_manager").Str("shard_id", cfg.ShardID).Logger(),
	}
}

func (m *Manager) deviceLock(id pattern.ID) *sync.Mutex {
	m.stripesMu.Lock()
	defer m.stripesMu.Unlock()
	mu, ok := m.stripes[id]
	if !ok {
		mu = &sync.Mutex{}
		m.stripes[id] = mu
	}
	return mu
}

func (m *Manager) knowsDevice(id pattern.ID) bool {
	m.devicesMu.RLock()
	_, ok := m.devices[id]
	m.devicesMu.RUnlock()
	return ok
}

func (m *Manager) deviceCount() int {
	m.devicesMu.RLock()
	defer m.devicesMu.RUnlock()
	return len(m.devices)
}

// HandleSync runs the full spec.md §4.8 pipeline for one device's delta.
func (m *Manager) HandleSync(ctx context.Context, deviceID pattern.ID, delta pattern.Delta) (pattern.Globals, error) {
	lock := m.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if !m.knowsDevice(deviceID) && m.cfg.MaxDevices > 0 && m.deviceCount() >= m.cfg.MaxDevices {
		return pattern.Globals{}, fmt.Errorf("shard %s at capacity (%d devices): %w", m.cfg.ShardID, m.cfg.MaxDevices, errs.ErrShardOverload)
	}

	filtered := make([]pattern.ViewingPattern, 0, len(delta.PatternsAdded))
	for _, p := range delta.PatternsAdded {
		if p.SuccessRate >= m.cfg.QualityThreshold {
			filtered = append(filtered, p)
		}
	}
	if err := m.index.Store(ctx, deviceID, filtered); err != nil {
		return pattern.Globals{}, fmt.Errorf("shard: store patterns: %w", err)
	}

	for _, u := range delta.PatternsUpdate {
		if err := m.index.Update(ctx, u.ID, u.NewSuccessRate, u.AdditionalSamples); err != nil {
			return pattern.Globals{}, fmt.Errorf("shard: apply update %s: %w", u.ID, err)
		}
	}

	for _, id := range delta.PatternsRemove {
		if err := m.index.Remove(ctx, id); err != nil {
			return pattern.Globals{}, fmt.Errorf("shard: remove %s: %w", id, err)
		}
	}

	similar, err := m.index.SimilarPatterns(ctx, deviceID, 100)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("shard: similar patterns: %w", err)
	}

	// Trend over this shard's own ServerIndex, which the federation
	// worker redistributes aggregated global patterns into every round
	// (spec.md §4.10, §4.11 step 6), rather than an unpopulated snapshot.
	trendSource, err := m.index.Collect(ctx, trend.MinQuality, 0, TrendSourceLimit)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("shard: collect trend source: %w", err)
	}
	trending := trend.Top(trendSource, m.cfg.Region, 50)
	globalVersion := uint64(time.Now().Unix())

	count, err := m.index.DeviceCount(ctx, deviceID)
	if err != nil {
		return pattern.Globals{}, fmt.Errorf("shard: device count: %w", err)
	}

	now := time.Now()
	state := pattern.DeviceState{
		DeviceID:     deviceID,
		LastSyncUnix: now.Unix(),
		LocalVersion: delta.LocalVersion,
		PatternCount: count,
		Region:       m.cfg.Region,
	}
	m.devicesMu.Lock()
	m.devices[deviceID] = state
	m.devicesMu.Unlock()
	m.cache.Set(ctx, state)

	m.log.Info().Str("device_id", deviceID.String()).Int("patterns_added", len(filtered)).
		Int("patterns_updated", len(delta.PatternsUpdate)).Int("patterns_removed", len(delta.PatternsRemove)).
		Msg("sync handled")

	return pattern.Globals{Similar: similar, Trending: trending, GlobalVersion: globalVersion}, nil
}

// DeviceState returns a device's last known state, checking the Redis
// cache before falling back to the in-memory map.
func (m *Manager) DeviceState(ctx context.Context, id pattern.ID) (pattern.DeviceState, bool) {
	if state, ok := m.cache.Get(ctx, id); ok {
		return state, true
	}
	m.devicesMu.RLock()
	defer m.devicesMu.RUnlock()
	state, ok := m.devices[id]
	return state, ok
}

// Stats returns advisory shard counters for the /api/v1/stats endpoint.
func (m *Manager) Stats(ctx context.Context) map[string]any {
	total, _ := m.index.TotalCount(ctx)
	return map[string]any{
		"shard_id":      m.cfg.ShardID,
		"region":        m.cfg.Region,
		"device_count":  m.deviceCount(),
		"max_devices":   m.cfg.MaxDevices,
		"pattern_count": total,
	}
}
