// Package shard implements the server-side ShardManager of spec.md §4.8:
// admission control, quality filtering, and delegation into a ServerIndex
// and TrendAggregator, serialized per device so DeviceState updates are
// monotonic in local_version.
package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// DeviceCache is a Redis-backed cache-aside layer over device state,
// grounded on the teacher's internal/skills/redis_cache.go
// (UniversalClient, JSON values, nil-safe no-op when unconfigured). A nil
// *DeviceCache (or one with a nil client) behaves as a pure pass-through:
// every Get misses and every Set is a no-op.
type DeviceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

// NewDeviceCache connects to addr if non-empty; an empty addr yields a
// disabled (nil-client) cache so callers can always treat ShardManager's
// state store as Redis-backed without special-casing "no Redis configured".
func NewDeviceCache(addr string, ttl time.Duration, log zerolog.Logger) (*DeviceCache, error) {
	if addr == "" {
		return &DeviceCache{log: log.With().Str("component", "device_cache").Logger()}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("shard: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DeviceCache{client: client, ttl: ttl, log: log.With().Str("component", "device_cache").Logger()}, nil
}

func key(id pattern.ID) string { return "device:" + id.String() }

// Get returns the cached DeviceState, or false on a miss or disabled cache.
func (c *DeviceCache) Get(ctx context.Context, id pattern.ID) (pattern.DeviceState, bool) {
	if c == nil || c.client == nil {
		return pattern.DeviceState{}, false
	}
	val, err := c.client.Get(ctx, key(id)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Str("device_id", id.String()).Msg("device cache get failed")
		}
		return pattern.DeviceState{}, false
	}
	var state pattern.DeviceState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		c.log.Debug().Err(err).Str("device_id", id.String()).Msg("device cache unmarshal failed")
		return pattern.DeviceState{}, false
	}
	return state, true
}

// Set writes state to the cache. A disabled cache silently no-ops.
func (c *DeviceCache) Set(ctx context.Context, state pattern.DeviceState) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		c.log.Debug().Err(err).Msg("device cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, key(state.DeviceID), data, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("device_id", state.DeviceID.String()).Msg("device cache set failed")
	}
}
