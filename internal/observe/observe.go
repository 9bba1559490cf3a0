// Package observe implements the device-side Observer of spec.md §4.5:
// turning a raw viewing Event into an embedded ViewingPattern and
// committing it atomically to both the VectorIndex and the PatternStore.
// Grounded on the teacher's ingest-then-index pattern in internal/rag.
package observe

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/exogenesis-omega/constellation/internal/embedding"
	"github.com/exogenesis-omega/constellation/internal/pattern"
	"github.com/exogenesis-omega/constellation/internal/patternstore"
	"github.com/exogenesis-omega/constellation/internal/vectorindex"
)

// Observer folds viewing Events into the device's local pattern state.
type Observer struct {
	embedder embedding.Embedder
	index    *vectorindex.Index
	store    *patternstore.Store
	log      zerolog.Logger
}

// New builds an Observer writing into index and store.
func New(embedder embedding.Embedder, index *vectorindex.Index, store *patternstore.Store, log zerolog.Logger) *Observer {
	return &Observer{embedder: embedder, index: index, store: store, log: log.With().Str("component", "observer").Logger()}
}

// Record embeds the event text, builds a ViewingPattern, and commits it to
// both the index and the store. If embedding fails, the event is dropped:
// neither the index nor the store is mutated (spec.md §4.5).
func (o *Observer) Record(ctx context.Context, eventText string, ev pattern.Event) error {
	vec, err := o.embedder.Embed(ctx, eventText)
	if err != nil {
		o.log.Error().Err(err).Str("content_id", ev.ContentID).Msg("embed event failed, dropping")
		return nil
	}

	now := time.Now()
	p := pattern.ViewingPattern{
		ID:           pattern.NewID(),
		Embedding:    vec,
		SuccessRate:  ev.WatchFraction,
		SampleCount:  1,
		Context:      ev.Context,
		CreatedAt:    now,
		UpdatedAt:    now,
		ContentID:    ev.ContentID,
		ContentTitle: ev.ContentTitle,
	}
	p.Clamp()

	if err := o.index.Insert(p.ID.String(), p.Embedding, map[string]any{
		"content_id":   p.ContentID,
		"title":        p.ContentTitle,
		"success_rate": p.SuccessRate,
		"watch_pct":    ev.WatchFraction,
		"timestamp":    ev.Timestamp,
	}); err != nil {
		o.log.Error().Err(err).Str("content_id", ev.ContentID).Msg("index insert failed, dropping")
		return nil
	}

	o.store.Record(p)
	return nil
}
