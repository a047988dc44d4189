package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/ai"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/vecindex"
)

// Vectorizer pairs an embedder with a vector index. The index dimension is
// not known until the first embedding comes back, so Create is deferred to
// that point and later calls must agree with the recorded dimension.
type Vectorizer struct {
	embedder ai.IEmbedder
	index    vecindex.Index

	mu        sync.Mutex
	dimension int
}

func NewVectorizer(embedder ai.IEmbedder, index vecindex.Index) *Vectorizer {
	return &Vectorizer{embedder: embedder, index: index}
}

func (v *Vectorizer) Index() vecindex.Index {
	return v.index
}

func (v *Vectorizer) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if v.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not configured", appErr.ErrModelUnavailable)
	}
	vecs, err := v.embedder.EmbedBatch(ctx, texts, ai.TaskTypeDocument)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	for i, vec := range vecs {
		if len(vec) == 0 {
			return nil, fmt.Errorf("embedder returned empty vector at %d", i)
		}
		if len(vec) != len(vecs[0]) {
			return nil, fmt.Errorf("embedder returned mixed dimensions (%d and %d)", len(vecs[0]), len(vec))
		}
	}
	if err := v.ensureIndex(ctx, len(vecs[0])); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (v *Vectorizer) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not configured", appErr.ErrModelUnavailable)
	}
	vec, err := v.embedder.Embed(ctx, text, ai.TaskTypeQuery)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedder returned empty vector")
	}
	if err := v.ensureIndex(ctx, len(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

func (v *Vectorizer) ensureIndex(ctx context.Context, dimension int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dimension == dimension {
		return nil
	}
	if v.dimension != 0 {
		return fmt.Errorf("%w: embedder produced dimension %d, index uses %d",
			appErr.ErrDimensionMismatch, dimension, v.dimension)
	}
	if err := v.index.Create(ctx, dimension, vecindex.MetricCosine); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("vector index ready", zap.Int("dimension", dimension))
	v.dimension = dimension
	return nil
}
