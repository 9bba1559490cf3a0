// Package federation implements the FederationCoordinator of spec.md
// §4.11: a periodic cross-shard round that collects high-quality
// patterns from every shard's ServerIndex, groups them by a quantized
// pattern key, aggregates each group into a single AggregatedPattern,
// derives global trend signals, and writes the aggregated patterns back
// into every shard. Grounded on the teacher's internal/orchestrator/kafka.go round
// announcement pattern and internal/tools/kafka/producer.go Writer
// interface for the inter-round broker notification, with round counts
// recorded through the global OpenTelemetry meter provider configured by
// internal/observability.
package federation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/exogenesis-omega/constellation/internal/ids"
	"github.com/exogenesis-omega/constellation/internal/pattern"
	"github.com/exogenesis-omega/constellation/internal/serverindex"
)

// globalPatternNamespace scopes the deterministic ids assigned to
// redistributed global patterns, keyed by genre (spec.md §4.11 step 6,
// §6's "global_patterns table keyed by genre, upsertable").
var globalPatternNamespace = uuid.MustParse("6f6d5e3a-6e61-4d8a-9e8b-3a7c2f1d9b40")

// globalPatternID derives a stable id for genre so repeated federation
// rounds upsert the same row instead of inserting a new one each time.
func globalPatternID(genre string) pattern.ID {
	return uuid.NewSHA1(globalPatternNamespace, []byte(genre))
}

// Defaults from spec.md §4.11.
const (
	DefaultInterval       = 3600 * time.Second
	PatternsPerShard      = 1000
	MinQuality            = 0.8
	MinSampleCount        = 5
	MinGroupSize          = 3
	TopTrendSignals       = 100
	SampleContextsPerPattern = 3
)

// AggregatedPattern is the output of one group's weighted-average step.
type AggregatedPattern struct {
	Key             ids.PatternKey
	Embedding       pattern.Vector
	AvgSuccessRate  float64
	Quality         float64
	SourceCount     int
	SampleContexts  []pattern.Context
}

// Genre returns the canonical genre for this aggregated pattern: the
// pattern.Context.Genre of the first sample context whose genre is known,
// or "unknown" when none is.
func (a AggregatedPattern) Genre() string {
	for _, c := range a.SampleContexts {
		if g := c.Genre(); g != "unknown" {
			return g
		}
	}
	return "unknown"
}

// Writer is the subset of a kafka.Writer this package needs to announce
// round completion, grounded on the teacher's kafka.Writer interface.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Shard is one federation member: a ServerIndex to collect from and
// redistribute into, identified by region for trend scoping.
type Shard struct {
	Index  serverindex.Index
	Region string
}

// Coordinator runs federation rounds across a fixed set of shards. One
// round runs at a time; a round still in flight when the next tick fires
// is skipped, not queued (spec.md §5).
type Coordinator struct {
	shards        []Shard
	roundTopic    string
	producer      Writer
	log           zerolog.Logger
	roundsCounter metric.Int64Counter

	running chan struct{} // capacity-1 token; held while a round executes
}

// New builds a Coordinator over shards. producer may be nil, in which
// case round completion is not announced to Kafka.
func New(shards []Shard, roundTopic string, producer Writer, log zerolog.Logger) *Coordinator {
	meter := otel.GetMeterProvider().Meter("constellation/federation")
	counter, _ := meter.Int64Counter("federation_rounds_total")
	return &Coordinator{
		shards:        shards,
		roundTopic:    roundTopic,
		producer:      producer,
		log:           log.With().Str("component", "federation_coordinator").Logger(),
		roundsCounter: counter,
		running:       make(chan struct{}, 1),
	}
}

// Run fires Round on each tick of interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case c.running <- struct{}{}:
				go func() {
					defer func() { <-c.running }()
					if err := c.Round(ctx); err != nil {
						c.log.Error().Err(err).Msg("federation round failed")
					}
				}()
			default:
				c.log.Warn().Msg("federation round still in flight, skipping tick")
			}
		}
	}
}

// Round executes one full federation round: collect, group, filter,
// aggregate, detect trends, redistribute.
func (c *Coordinator) Round(ctx context.Context) error {
	start := time.Now()

	collected, err := c.collect(ctx)
	if err != nil {
		return err
	}

	groups := group(collected)
	aggregated := aggregate(groups)
	trends := detectTrends(aggregated)

	if err := c.redistribute(ctx, aggregated, trends); err != nil {
		c.log.Error().Err(err).Msg("federation redistribute encountered shard failures")
	}

	c.log.Info().Int("patterns_collected", len(collected)).Int("groups", len(groups)).
		Int("aggregated", len(aggregated)).Dur("elapsed", time.Since(start)).Msg("federation round complete")

	if c.roundsCounter != nil {
		c.roundsCounter.Add(ctx, 1)
	}

	if c.producer != nil {
		if err := c.producer.WriteMessages(ctx, kafka.Message{
			Topic: c.roundTopic,
			Value: []byte("federation round complete"),
		}); err != nil {
			c.log.Error().Err(err).Msg("federation round announcement failed")
		}
	}

	return nil
}

// collect implements step 1: from each shard, up to PatternsPerShard
// patterns meeting the quality floor.
func (c *Coordinator) collect(ctx context.Context) ([]pattern.ViewingPattern, error) {
	var all []pattern.ViewingPattern
	for _, s := range c.shards {
		patterns, err := s.Index.Collect(ctx, MinQuality, MinSampleCount, PatternsPerShard)
		if err != nil {
			c.log.Error().Err(err).Str("region", s.Region).Msg("collect failed for shard")
			continue
		}
		all = append(all, patterns...)
	}
	return all, nil
}

// group implements step 2: quantize each pattern's embedding into an
// 8-byte key; patterns sharing a key form a candidate group.
func group(patterns []pattern.ViewingPattern) map[ids.PatternKey][]pattern.ViewingPattern {
	groups := make(map[ids.PatternKey][]pattern.ViewingPattern)
	for _, p := range patterns {
		key := ids.QuantizeKey(p.Embedding)
		groups[key] = append(groups[key], p)
	}
	return groups
}

// aggregate implements steps 3 and 4: drop undersized/zero-weight
// groups, then emit one AggregatedPattern per surviving group.
func aggregate(groups map[ids.PatternKey][]pattern.ViewingPattern) []AggregatedPattern {
	out := make([]AggregatedPattern, 0, len(groups))
	for key, members := range groups {
		if len(members) < MinGroupSize {
			continue
		}

		var totalWeight, rateSum float64
		var dim int
		for _, m := range members {
			if len(m.Embedding) > dim {
				dim = len(m.Embedding)
			}
		}
		weighted := make([]float64, dim)
		for _, m := range members {
			w := m.SuccessRate * float64(m.SampleCount)
			totalWeight += w
			rateSum += m.SuccessRate
			for i := 0; i < len(m.Embedding); i++ {
				weighted[i] += w * float64(m.Embedding[i])
			}
		}
		if totalWeight <= 0 {
			continue
		}

		embedding := make(pattern.Vector, dim)
		for i, w := range weighted {
			embedding[i] = float32(w / totalWeight)
		}

		contexts := make([]pattern.Context, 0, SampleContextsPerPattern)
		for i, m := range members {
			if i >= SampleContextsPerPattern {
				break
			}
			contexts = append(contexts, m.Context)
		}

		out = append(out, AggregatedPattern{
			Key:            key,
			Embedding:      embedding,
			AvgSuccessRate: rateSum / float64(len(members)),
			Quality:        totalWeight / float64(len(members)),
			SourceCount:    len(members),
			SampleContexts: contexts,
		})
	}
	return out
}

// detectTrends implements step 5: for each group and each genre hint
// appearing in its sample contexts, accumulate quality*avg_success_rate
// into that genre's score, then keep the top TopTrendSignals globally.
func detectTrends(aggregated []AggregatedPattern) []pattern.TrendSignal {
	scores := make(map[string]float64)
	for _, a := range aggregated {
		seen := make(map[string]bool)
		for _, ctx := range a.SampleContexts {
			for _, g := range ctx.GenreHints {
				if g == "" || seen[g] {
					continue
				}
				seen[g] = true
				scores[g] += a.Quality * a.AvgSuccessRate
			}
		}
	}

	signals := make([]pattern.TrendSignal, 0, len(scores))
	for g, s := range scores {
		signals = append(signals, pattern.TrendSignal{ContentID: g, TrendingScore: s, Region: "global"})
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].TrendingScore > signals[j].TrendingScore })
	if len(signals) > TopTrendSignals {
		signals = signals[:TopTrendSignals]
	}
	return signals
}

// redistribute implements step 6 for aggregated patterns: it upserts them
// into every shard. The trend signals are not written to any shard. A
// single shard's failure is logged, not fatal to the round (spec.md §4.11).
func (c *Coordinator) redistribute(ctx context.Context, aggregated []AggregatedPattern, trends []pattern.TrendSignal) error {
	globalRows := make([]pattern.ViewingPattern, 0, len(aggregated))
	for _, a := range aggregated {
		genre := a.Genre()
		globalRows = append(globalRows, pattern.ViewingPattern{
			ID:          globalPatternID(genre),
			Embedding:   a.Embedding,
			SuccessRate: a.AvgSuccessRate,
			SampleCount: uint64(a.SourceCount),
			Context:     firstContext(a.SampleContexts),
			ContentID:   genre,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		})
	}

	var lastErr error
	globalDeviceID := pattern.ID{} // zero UUID marks rows owned by federation, not any single device
	for _, s := range c.shards {
		if err := s.Index.Store(ctx, globalDeviceID, globalRows); err != nil {
			c.log.Error().Err(err).Str("region", s.Region).Msg("redistribute failed for shard")
			lastErr = err
		}
	}
	return lastErr
}

func firstContext(contexts []pattern.Context) pattern.Context {
	if len(contexts) == 0 {
		return pattern.Context{}
	}
	return contexts[0]
}
