// Package patternstore implements the device-local PatternStore of
// spec.md §4.3: an episodic log, a weighted skill aggregate, a bounded
// reasoning table of globally-received patterns, and a monotonic version
// counter. Per the redesign note in spec.md §9 and §5, the three tables
// are logically independent and each guarded by its own lock rather than
// sharing one store-wide mutex.
package patternstore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// Defaults from spec.md §3.
const (
	DefaultEpisodicMax   = 1000
	DefaultEpisodicTrim  = 100
	DefaultReasoningMax  = 500
	DefaultSyncQuality   = 0.7
)

// Config tunes the store's bounds and thresholds.
type Config struct {
	EpisodicMax  int
	EpisodicTrim int
	ReasoningMax int
	SyncQuality  float64
}

// DefaultConfig returns the spec.md §3/§4.3 defaults.
func DefaultConfig() Config {
	return Config{
		EpisodicMax:  DefaultEpisodicMax,
		EpisodicTrim: DefaultEpisodicTrim,
		ReasoningMax: DefaultReasoningMax,
		SyncQuality:  DefaultSyncQuality,
	}
}

// Store owns EpisodicLog, SkillTable, ReasoningTable, and VersionCounter.
type Store struct {
	cfg Config

	episodicMu sync.RWMutex
	episodic   []pattern.ViewingPattern // oldest first

	skillMu sync.RWMutex
	skills  map[pattern.ID]pattern.ViewingPattern

	reasoningMu sync.RWMutex
	reasoning   map[pattern.ID]pattern.ViewingPattern

	version atomic.Uint64
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.EpisodicMax <= 0 {
		cfg.EpisodicMax = DefaultEpisodicMax
	}
	if cfg.EpisodicTrim <= 0 {
		cfg.EpisodicTrim = DefaultEpisodicTrim
	}
	if cfg.ReasoningMax <= 0 {
		cfg.ReasoningMax = DefaultReasoningMax
	}
	if cfg.SyncQuality == 0 {
		cfg.SyncQuality = DefaultSyncQuality
	}
	return &Store{
		cfg:       cfg,
		episodic:  make([]pattern.ViewingPattern, 0, cfg.EpisodicMax),
		skills:    make(map[pattern.ID]pattern.ViewingPattern),
		reasoning: make(map[pattern.ID]pattern.ViewingPattern),
	}
}

// Record appends p to the episodic log (trimming when over EpisodicMax),
// upserts it into the skill table using the weighted-merge rule of
// spec.md §3, and increments the version counter by exactly 1.
func (s *Store) Record(p pattern.ViewingPattern) {
	p.Clamp()

	s.episodicMu.Lock()
	s.episodic = append(s.episodic, p)
	if len(s.episodic) > s.cfg.EpisodicMax {
		drop := s.cfg.EpisodicTrim
		if drop > len(s.episodic) {
			drop = len(s.episodic)
		}
		s.episodic = append([]pattern.ViewingPattern(nil), s.episodic[drop:]...)
	}
	s.episodicMu.Unlock()

	s.skillMu.Lock()
	existing, ok := s.skills[p.ID]
	if !ok {
		s.skills[p.ID] = p
	} else {
		s.skills[p.ID] = pattern.MergeWeighted(existing, p)
	}
	s.skillMu.Unlock()

	s.version.Add(1)
}

// GetChangesSince returns a Delta containing every skill-table entry with
// SuccessRate >= the store's configured sync quality threshold. As noted
// in spec.md §9, this is an over-approximation of "changes since v": the
// current protocol does not track a per-skill changed-version, so every
// high-quality skill is resent regardless of v. local_version is the
// counter value at snapshot time.
func (s *Store) GetChangesSince(deviceID pattern.ID, v uint64) pattern.Delta {
	s.skillMu.RLock()
	added := make([]pattern.ViewingPattern, 0, len(s.skills))
	for _, p := range s.skills {
		if p.SuccessRate >= s.cfg.SyncQuality {
			added = append(added, p)
		}
	}
	s.skillMu.RUnlock()

	return pattern.Delta{
		DeviceID:       deviceID,
		PatternsAdded:  added,
		PatternsUpdate: nil,
		PatternsRemove: nil,
		LocalVersion:   s.version.Load(),
	}
}

// MergeGlobal inserts or replaces p in the ReasoningTable, keyed by ID.
// When the table exceeds ReasoningMax, it is truncated to the top
// ReasoningMax entries by descending SuccessRate.
//
// Per spec.md §4.3, this updates only the ReasoningTable, not the
// SkillTable — whether shared intelligence should also influence local
// ranking via the SkillTable is an open question (spec.md §9) left
// unresolved here rather than guessed.
func (s *Store) MergeGlobal(p pattern.ViewingPattern) {
	s.reasoningMu.Lock()
	defer s.reasoningMu.Unlock()

	s.reasoning[p.ID] = p
	if len(s.reasoning) <= s.cfg.ReasoningMax {
		return
	}

	all := make([]pattern.ViewingPattern, 0, len(s.reasoning))
	for _, rp := range s.reasoning {
		all = append(all, rp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SuccessRate > all[j].SuccessRate })
	all = all[:s.cfg.ReasoningMax]

	s.reasoning = make(map[pattern.ID]pattern.ViewingPattern, s.cfg.ReasoningMax)
	for _, rp := range all {
		s.reasoning[rp.ID] = rp
	}
}

// ReasoningPatterns returns a snapshot of the reasoning table, most
// successful first.
func (s *Store) ReasoningPatterns() []pattern.ViewingPattern {
	s.reasoningMu.RLock()
	defer s.reasoningMu.RUnlock()
	out := make([]pattern.ViewingPattern, 0, len(s.reasoning))
	for _, p := range s.reasoning {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out
}

// SkillPatterns returns a snapshot of all skill-table entries.
func (s *Store) SkillPatterns() []pattern.ViewingPattern {
	s.skillMu.RLock()
	defer s.skillMu.RUnlock()
	out := make([]pattern.ViewingPattern, 0, len(s.skills))
	for _, p := range s.skills {
		out = append(out, p)
	}
	return out
}

// EpisodeCount returns the number of episodic entries currently retained.
func (s *Store) EpisodeCount() int {
	s.episodicMu.RLock()
	defer s.episodicMu.RUnlock()
	return len(s.episodic)
}

// SkillCount returns the number of skill-table entries.
func (s *Store) SkillCount() int {
	s.skillMu.RLock()
	defer s.skillMu.RUnlock()
	return len(s.skills)
}

// Version returns the current value of the monotonic version counter.
func (s *Store) Version() uint64 { return s.version.Load() }
