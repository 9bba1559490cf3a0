package serverindex

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// row is the server's owned view of a pattern: the pattern itself plus the
// device that contributed it.
type row struct {
	pattern  pattern.ViewingPattern
	deviceID pattern.ID
}

// Memory is an in-process Index, used in tests and as the zero-dependency
// fallback backend (VECTOR_BACKEND=memory). Grounded on the teacher's
// memory_vector.go in-memory VectorStore, generalized to device ownership
// and the weighted-merge update rule.
type Memory struct {
	mu   sync.RWMutex
	rows map[pattern.ID]row
}

// NewMemory returns an empty Memory index.
func NewMemory() *Memory {
	return &Memory{rows: make(map[pattern.ID]row)}
}

var _ Index = (*Memory)(nil)

// Store implements Index.
func (m *Memory) Store(_ context.Context, deviceID pattern.ID, patterns []pattern.ViewingPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range patterns {
		m.rows[p.ID] = row{pattern: p, deviceID: deviceID}
	}
	return nil
}

// Update implements Index.
func (m *Memory) Update(_ context.Context, patternID pattern.ID, newRate float64, extraSamples uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[patternID]
	if !ok {
		return nil
	}
	update := pattern.PatternUpdate{ID: patternID, NewSuccessRate: newRate, AdditionalSamples: extraSamples}
	r.pattern = pattern.ApplyUpdate(r.pattern, update, time.Now())
	m.rows[patternID] = r
	return nil
}

// Remove implements Index.
func (m *Memory) Remove(_ context.Context, patternID pattern.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, patternID)
	return nil
}

// SimilarPatterns implements Index.
func (m *Memory) SimilarPatterns(_ context.Context, deviceID pattern.ID, k int) ([]pattern.ViewingPattern, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	own := make([]pattern.Vector, 0)
	others := make([]row, 0, len(m.rows))
	for _, r := range m.rows {
		if r.deviceID == deviceID {
			own = append(own, r.pattern.Embedding)
		} else {
			others = append(others, r)
		}
	}
	m.mu.RUnlock()

	if len(own) > 0 {
		mean := meanVector(own)
		candidates := make([]pattern.ViewingPattern, 0, len(others))
		for _, r := range others {
			if r.pattern.SuccessRate >= WarmQuality {
				candidates = append(candidates, r.pattern)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return cosineDistance(mean, candidates[i].Embedding) < cosineDistance(mean, candidates[j].Embedding)
		})
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	m.mu.RLock()
	candidates := make([]pattern.ViewingPattern, 0, len(m.rows))
	for _, r := range m.rows {
		if r.pattern.SuccessRate >= ColdStartQuality {
			candidates = append(candidates, r.pattern)
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].SuccessRate != candidates[j].SuccessRate {
			return candidates[i].SuccessRate > candidates[j].SuccessRate
		}
		return candidates[i].SampleCount > candidates[j].SampleCount
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// DeviceCount implements Index.
func (m *Memory) DeviceCount(_ context.Context, deviceID pattern.ID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.rows {
		if r.deviceID == deviceID {
			n++
		}
	}
	return n, nil
}

// TotalCount implements Index.
func (m *Memory) TotalCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

// Collect implements Index.
func (m *Memory) Collect(_ context.Context, minSuccessRate float64, minSampleCount uint64, limit int) ([]pattern.ViewingPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pattern.ViewingPattern, 0, limit)
	for _, r := range m.rows {
		if r.pattern.SuccessRate >= minSuccessRate && r.pattern.SampleCount >= minSampleCount {
			out = append(out, r.pattern)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func meanVector(vecs []pattern.Vector) pattern.Vector {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	mean := make(pattern.Vector, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vecs)))
	}
	return mean
}

func cosineDistance(a, b pattern.Vector) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	na, nb = math.Sqrt(na), math.Sqrt(nb)
	if na == 0 || nb == 0 {
		return 2.0
	}
	cos := dot / (na * nb)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}
