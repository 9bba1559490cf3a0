package serverindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

const (
	payloadDeviceID    = "device_id"
	payloadSuccessRate = "success_rate"
	payloadSampleCount = "sample_count"
	payloadContentID   = "content_id"
	payloadTitle       = "content_title"
)

// Qdrant is a gRPC-backed Index over a Qdrant collection, grounded on the
// teacher's persistence/databases/qdrant_vector.go client setup and
// point/payload conventions, generalized to device ownership and the
// weighted-merge update rule.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant connects to dsn (e.g. "http://localhost:6334") and ensures the
// target collection exists with cosine distance at the given dimension.
func NewQdrant(ctx context.Context, dsn, collection string, dimension int) (*Qdrant, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("serverindex: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("serverindex: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum, UseTLS: parsed.Scheme == "https"}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("serverindex: new qdrant client: %w", err)
	}

	q := &Qdrant{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("serverindex: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("serverindex: create collection: %w", err)
	}
	return nil
}

var _ Index = (*Qdrant)(nil)

// Store implements Index.
func (q *Qdrant) Store(ctx context.Context, deviceID pattern.ID, patterns []pattern.ViewingPattern) error {
	points := make([]*qdrant.PointStruct, 0, len(patterns))
	for _, p := range patterns {
		vec := make([]float32, len(p.Embedding))
		copy(vec, p.Embedding)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID.String()),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDeviceID:    deviceID.String(),
				payloadSuccessRate: p.SuccessRate,
				payloadSampleCount: float64(p.SampleCount),
				payloadContentID:   p.ContentID,
				payloadTitle:       p.ContentTitle,
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	if err != nil {
		return fmt.Errorf("serverindex: qdrant upsert: %w", err)
	}
	return nil
}

// Update implements Index.
func (q *Qdrant) Update(ctx context.Context, patternID pattern.ID, newRate float64, extraSamples uint64) error {
	existing, ok, err := q.fetch(ctx, patternID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	update := pattern.PatternUpdate{ID: patternID, NewSuccessRate: newRate, AdditionalSamples: extraSamples}
	merged := pattern.ApplyUpdate(existing, update, time.Now())

	_, err = q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Payload: qdrant.NewValueMap(map[string]any{
			payloadSuccessRate: merged.SuccessRate,
			payloadSampleCount: float64(merged.SampleCount),
		}),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(patternID.String())),
	})
	if err != nil {
		return fmt.Errorf("serverindex: qdrant set payload: %w", err)
	}
	return nil
}

// Remove implements Index.
func (q *Qdrant) Remove(ctx context.Context, patternID pattern.ID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(patternID.String())),
	})
	if err != nil {
		return fmt.Errorf("serverindex: qdrant delete: %w", err)
	}
	return nil
}

// SimilarPatterns implements Index. The cold-start branch returns up to k
// points with success_rate >= ColdStartQuality without ordering them by
// success_rate or sample_count.
func (q *Qdrant) SimilarPatterns(ctx context.Context, deviceID pattern.ID, k int) ([]pattern.ViewingPattern, error) {
	if k <= 0 {
		return nil, nil
	}

	own, err := q.deviceVectors(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	limit := uint64(k)
	if len(own) > 0 {
		mean := meanVector(own)
		vec := make([]float32, len(mean))
		copy(vec, mean)
		filter := &qdrant.Filter{
			MustNot: []*qdrant.Condition{qdrant.NewMatch(payloadDeviceID, deviceID.String())},
			Must:    []*qdrant.Condition{qdrant.NewRange(payloadSuccessRate, &qdrant.Range{Gte: qdrant.PtrOf(WarmQuality)})},
		}
		hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQueryDense(vec),
			Filter:         filter,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("serverindex: qdrant similarity query: %w", err)
		}
		return hitsToPatterns(hits), nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewRange(payloadSuccessRate, &qdrant.Range{Gte: qdrant.PtrOf(ColdStartQuality)})},
	}
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("serverindex: qdrant cold-start query: %w", err)
	}
	return hitsToPatterns(hits), nil
}

// DeviceCount implements Index.
func (q *Qdrant) DeviceCount(ctx context.Context, deviceID pattern.ID) (int, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadDeviceID, deviceID.String())}}
	n, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection, Filter: filter})
	if err != nil {
		return 0, fmt.Errorf("serverindex: qdrant device count: %w", err)
	}
	return int(n), nil
}

// TotalCount implements Index.
func (q *Qdrant) TotalCount(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, fmt.Errorf("serverindex: qdrant total count: %w", err)
	}
	return int(n), nil
}

// Collect implements Index.
func (q *Qdrant) Collect(ctx context.Context, minSuccessRate float64, minSampleCount uint64, limit int) ([]pattern.ViewingPattern, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewRange(payloadSuccessRate, &qdrant.Range{Gte: qdrant.PtrOf(minSuccessRate)}),
		qdrant.NewRange(payloadSampleCount, &qdrant.Range{Gte: qdrant.PtrOf(float64(minSampleCount))}),
	}}
	l := uint32(limit)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("serverindex: qdrant collect scroll: %w", err)
	}
	out := make([]pattern.ViewingPattern, 0, len(points))
	for _, p := range points {
		id, err := pattern.ParseID(p.Id.GetUuid())
		if err != nil {
			continue
		}
		v := payloadToPattern(id, p.Payload)
		if p.Vectors != nil {
			v.Embedding = pattern.Vector(p.Vectors.GetVector().GetData())
		}
		out = append(out, v)
	}
	return out, nil
}

func (q *Qdrant) fetch(ctx context.Context, patternID pattern.ID) (pattern.ViewingPattern, bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(patternID.String())},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return pattern.ViewingPattern{}, false, fmt.Errorf("serverindex: qdrant get: %w", err)
	}
	if len(points) == 0 {
		return pattern.ViewingPattern{}, false, nil
	}
	return payloadToPattern(patternID, points[0].Payload), true, nil
}

func (q *Qdrant) deviceVectors(ctx context.Context, deviceID pattern.ID) ([]pattern.Vector, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadDeviceID, deviceID.String())}}
	limit := uint32(10000)
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Limit:          &limit,
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("serverindex: qdrant scroll: %w", err)
	}
	out := make([]pattern.Vector, 0, len(points))
	for _, p := range points {
		if p.Vectors == nil {
			continue
		}
		out = append(out, pattern.Vector(p.Vectors.GetVector().GetData()))
	}
	return out, nil
}

func hitsToPatterns(hits []*qdrant.ScoredPoint) []pattern.ViewingPattern {
	out := make([]pattern.ViewingPattern, 0, len(hits))
	for _, h := range hits {
		id, err := pattern.ParseID(h.Id.GetUuid())
		if err != nil {
			continue
		}
		out = append(out, payloadToPattern(id, h.Payload))
	}
	return out
}

func payloadToPattern(id pattern.ID, payload map[string]*qdrant.Value) pattern.ViewingPattern {
	v := pattern.ViewingPattern{ID: id}
	if sr, ok := payload[payloadSuccessRate]; ok {
		v.SuccessRate = sr.GetDoubleValue()
	}
	if sc, ok := payload[payloadSampleCount]; ok {
		v.SampleCount = uint64(sc.GetDoubleValue())
	}
	if cid, ok := payload[payloadContentID]; ok {
		v.ContentID = cid.GetStringValue()
	}
	if title, ok := payload[payloadTitle]; ok {
		v.ContentTitle = title.GetStringValue()
	}
	return v
}
