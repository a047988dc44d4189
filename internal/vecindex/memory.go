package vecindex

import (
	"context"
	"fmt"
	"math"
	"sync"

	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

const defaultTopK = 10

// memoryIndex is a brute-force cosine store. Good for tests and small
// corpora; everything lives behind one RWMutex.
type memoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]Point
}

func NewMemory() Index {
	return &memoryIndex{points: map[string]Point{}}
}

func (m *memoryIndex) Create(ctx context.Context, dimension int, metric string) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", appErr.ErrInvalid)
	}
	if metric != MetricCosine {
		return fmt.Errorf("%w: unsupported metric %q", appErr.ErrInvalid, metric)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension != 0 && m.dimension != dimension {
		return fmt.Errorf("%w: index has dimension %d, requested %d", appErr.ErrDimensionMismatch, m.dimension, dimension)
	}
	m.dimension = dimension
	return nil
}

func (m *memoryIndex) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		return fmt.Errorf("%w: index not created", appErr.ErrInvalid)
	}
	for _, p := range points {
		if len(p.Vector) != m.dimension {
			return fmt.Errorf("%w: vector for %s has length %d, index dimension is %d",
				appErr.ErrInvalid, p.ID, len(p.Vector), m.dimension)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		m.points[p.ID] = p
	}
	return nil
}

func (m *memoryIndex) Search(ctx context.Context, vector []float32, q Query) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dimension == 0 {
		return nil, fmt.Errorf("%w: index not created", appErr.ErrInvalid)
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query vector has length %d, index dimension is %d",
			appErr.ErrDimensionMismatch, len(vector), m.dimension)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	hits := make([]Hit, 0, topK)
	for _, p := range m.points {
		if !p.Payload.matches(q.Filter) {
			continue
		}
		score := cosineSimilarity(vector, p.Vector)
		if score < q.ScoreThreshold {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *memoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func (m *memoryIndex) DeleteByFilter(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: refusing delete with empty filter", appErr.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.Payload.matches(filter) {
			delete(m.points, id)
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func init() {
	Register("memory", func(args interface{}) (Index, error) {
		return NewMemory(), nil
	})
}
