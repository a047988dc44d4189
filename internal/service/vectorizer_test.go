package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/vecindex"
)

// fakeEmbedder returns a fixed unit vector for every text unless the vectors
// map pins a specific one.
type fakeEmbedder struct {
	dim           int
	vectors       map[string][]float32
	embedErr      error
	batchErr      error
	batchOverride [][]float32
	batches       int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim, vectors: map[string][]float32{}}
}

func (f *fakeEmbedder) vector(text string) []float32 {
	if vec, ok := f.vectors[text]; ok {
		return vec
	}
	vec := make([]float32, f.dim)
	vec[0] = 1
	return vec
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	f.batches++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.batchOverride != nil {
		return f.batchOverride, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, f.vector(text))
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string {
	return "fake-embed"
}

type fakeGenerator struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestVectorizerEmbedDocuments(t *testing.T) {
	ctx := context.Background()
	vz := NewVectorizer(newFakeEmbedder(3), vecindex.NewMemory())

	vecs, err := vz.EmbedDocuments(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 3)

	// The index must be created by now, so an upsert goes through.
	err = vz.Index().Upsert(ctx, []vecindex.Point{{ID: "p1", Vector: vecs[0]}})
	require.NoError(t, err)
}

func TestVectorizerEmptyInput(t *testing.T) {
	vz := NewVectorizer(nil, vecindex.NewMemory())
	vecs, err := vz.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestVectorizerNoEmbedder(t *testing.T) {
	ctx := context.Background()
	vz := NewVectorizer(nil, vecindex.NewMemory())

	_, err := vz.EmbedDocuments(ctx, []string{"alpha"})
	require.ErrorIs(t, err, appErr.ErrModelUnavailable)

	_, err = vz.EmbedQuery(ctx, "alpha")
	require.ErrorIs(t, err, appErr.ErrModelUnavailable)
}

func TestVectorizerCountMismatch(t *testing.T) {
	emb := newFakeEmbedder(3)
	emb.batchOverride = [][]float32{{1, 0, 0}}
	vz := NewVectorizer(emb, vecindex.NewMemory())

	_, err := vz.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 vectors for 2 inputs")
}

func TestVectorizerMixedDimensions(t *testing.T) {
	emb := newFakeEmbedder(3)
	emb.vectors["short"] = []float32{1, 0}
	vz := NewVectorizer(emb, vecindex.NewMemory())

	_, err := vz.EmbedDocuments(context.Background(), []string{"a", "short"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mixed dimensions")
}

func TestVectorizerEmptyVector(t *testing.T) {
	emb := newFakeEmbedder(3)
	emb.vectors["bad"] = []float32{}
	vz := NewVectorizer(emb, vecindex.NewMemory())

	_, err := vz.EmbedQuery(context.Background(), "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty vector")
}

func TestVectorizerDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	emb := newFakeEmbedder(3)
	emb.vectors["narrow"] = []float32{1, 0}
	vz := NewVectorizer(emb, vecindex.NewMemory())

	_, err := vz.EmbedQuery(ctx, "wide")
	require.NoError(t, err)

	// A second embedding with another dimension must be refused instead of
	// silently recreating the index.
	_, err = vz.EmbedQuery(ctx, "narrow")
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)

	_, err = vz.EmbedDocuments(ctx, []string{"narrow"})
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)
}

func TestVectorizerEmbedBatchError(t *testing.T) {
	emb := newFakeEmbedder(3)
	emb.batchErr = fmt.Errorf("provider down")
	vz := NewVectorizer(emb, vecindex.NewMemory())

	_, err := vz.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorContains(t, err, "provider down")
}
