// Package pattern defines the core data model shared by the device-side
// engine and the constellation server: vectors, patterns, contexts, and the
// wire-level delta/global types exchanged between them.
package pattern

import (
	"time"

	"github.com/google/uuid"
)

// Dimension is the default embedding width, used by LocalEmbedder when it
// is given a non-positive width. Components that check vector length use
// the width they were constructed with.
const Dimension = 384

// Vector is a fixed-length embedding. Callers must not assume a particular
// length beyond "whatever Dimension was configured to at construction time";
// VectorIndex rejects mismatches explicitly; the in-memory ServerIndex
// stores vectors of any length.
type Vector []float32

// ID is an opaque 128-bit identifier used for both PatternId and DeviceId.
type ID = uuid.UUID

// NewID returns a fresh random identifier.
func NewID() ID { return uuid.New() }

// ParseID parses a canonical UUID string.
func ParseID(s string) (ID, error) { return uuid.Parse(s) }

// Context is the PatternContext tuple of spec.md §3. GenreHints is ordered;
// the first element is the canonical genre used for grouping.
type Context struct {
	TimeOfDay   string   `json:"time_of_day"`
	DayType     string   `json:"day_type"`
	ContentType string   `json:"content_type"`
	GenreHints  []string `json:"genre_hints"`
}

// Genre returns the canonical genre for grouping, or "unknown" if absent.
func (c Context) Genre() string {
	if len(c.GenreHints) == 0 || c.GenreHints[0] == "" {
		return "unknown"
	}
	return c.GenreHints[0]
}

// ViewingPattern is a durable summary of a successful viewing experience.
type ViewingPattern struct {
	ID          ID        `json:"id"`
	Embedding   Vector    `json:"embedding"`
	SuccessRate float64   `json:"success_rate"`
	SampleCount uint64    `json:"sample_count"`
	Context     Context   `json:"context"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// ContentID/ContentTitle are carried for ranking/metadata purposes; they
	// are not part of the canonical pattern key but travel with it end to
	// end (local index metadata, delta payload, server row).
	ContentID    string `json:"content_id,omitempty"`
	ContentTitle string `json:"content_title,omitempty"`
}

// Clamp enforces the SuccessRate invariant in place.
func (p *ViewingPattern) Clamp() {
	if p.SuccessRate < 0 {
		p.SuccessRate = 0
	}
	if p.SuccessRate > 1 {
		p.SuccessRate = 1
	}
	if p.SampleCount < 1 {
		p.SampleCount = 1
	}
}

// Event is an input viewing record. It lives only in memory until folded
// into a ViewingPattern by the Observer.
type Event struct {
	ContentID     string    `json:"content_id"`
	ContentTitle  string    `json:"content_title"`
	WatchFraction float64   `json:"watch_fraction"`
	DurationSecs  float64   `json:"duration_seconds"`
	Context       Context   `json:"context"`
	Timestamp     time.Time `json:"timestamp"`
}

// PatternUpdate describes an incremental weighted-merge update to an
// existing pattern, as referenced (but not yet emitted) by the device
// protocol in spec.md §9.
type PatternUpdate struct {
	ID                ID      `json:"id"`
	NewSuccessRate    float64 `json:"new_success_rate"`
	AdditionalSamples uint64  `json:"additional_samples"`
}

// Delta is the set of changes a device pushes to the constellation.
type Delta struct {
	DeviceID       ID               `json:"device_id"`
	PatternsAdded  []ViewingPattern `json:"patterns_added"`
	PatternsUpdate []PatternUpdate  `json:"patterns_updated"`
	PatternsRemove []ID             `json:"patterns_removed"`
	LocalVersion   uint64           `json:"local_version"`
	Timestamp      time.Time        `json:"timestamp"`
}

// TrendSignal is a region/genre trending score.
type TrendSignal struct {
	ContentID      string  `json:"content_id"`
	TrendingScore  float64 `json:"trending_score"`
	Region         string  `json:"region"`
}

// Globals is the server's response to a sync: nearby patterns, trends, and
// the server-assigned version the device should remember as its
// last_sync_version.
type Globals struct {
	Similar        []ViewingPattern `json:"similar"`
	Trending       []TrendSignal    `json:"trending"`
	GlobalVersion  uint64           `json:"global_version"`
}

// DeviceState is the server's view of a device's sync status.
type DeviceState struct {
	DeviceID      ID     `json:"device_id"`
	LastSyncUnix  int64  `json:"last_sync_unix"`
	LocalVersion  uint64 `json:"local_version"`
	PatternCount  int    `json:"pattern_count"`
	Region        string `json:"region"`
}

// Recommendation is a single ranked candidate returned by the device
// recommendation pipeline.
type Recommendation struct {
	ContentID    string  `json:"content_id"`
	ContentTitle string  `json:"content_title"`
	Score        float64 `json:"score"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// ActiveWindow is the "active device" threshold from spec.md §3.
const ActiveWindow = 900 // seconds

// Active reports whether the device state was updated recently enough to be
// considered active, relative to nowUnix.
func (d DeviceState) Active(nowUnix int64) bool {
	return nowUnix-d.LastSyncUnix < ActiveWindow
}
