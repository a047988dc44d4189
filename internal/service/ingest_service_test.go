package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docquery/internal/chunker"
	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/vecindex"
)

func newTestIngest(emb *fakeEmbedder) (*IngestService, *Vectorizer) {
	vz := NewVectorizer(emb, vecindex.NewMemory())
	return NewIngestService(nil, chunker.NewChunker(50, 10), vz), vz
}

func makePassages(projectID, documentID string, contents ...string) []*model.Passage {
	out := make([]*model.Passage, 0, len(contents))
	for i, content := range contents {
		out = append(out, &model.Passage{
			ID:         fmt.Sprintf("%s-p%d", documentID, i+1),
			DocumentID: documentID,
			ProjectID:  projectID,
			Index:      i,
			Content:    content,
			CharCount:  len([]rune(content)),
		})
	}
	return out
}

func indexedIDs(t *testing.T, vz *Vectorizer, documentID string) []string {
	t.Helper()
	hits, err := vz.Index().Search(context.Background(), []float32{1, 0, 0}, vecindex.Query{
		Filter: vecindex.Filter{vecindex.FilterDocumentID: documentID},
		TopK:   100,
	})
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	return ids
}

func TestIngestProcessDocument(t *testing.T) {
	svc, _ := newTestIngest(newFakeEmbedder(3))
	text := "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs. Sphinx of black quartz, judge my vow."
	passages, err := svc.ProcessDocument(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	for _, p := range passages {
		require.NotEmpty(t, p.Content)
		require.Equal(t, len([]rune(p.Content)), p.CharCount)
	}
}

func TestIngestIndexDocument(t *testing.T) {
	ctx := context.Background()
	svc, vz := newTestIngest(newFakeEmbedder(3))

	passages := makePassages("proj-1", "doc-1", "first passage", "second passage", "third passage")
	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", passages))

	hits, err := vz.Index().Search(ctx, []float32{1, 0, 0}, vecindex.Query{
		Filter: vecindex.Filter{vecindex.FilterProjectID: "proj-1"},
		TopK:   100,
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, hit := range hits {
		require.Equal(t, "proj-1", hit.Payload.ProjectID)
		require.Equal(t, "doc-1", hit.Payload.DocumentID)
		require.NotEmpty(t, hit.Payload.Content)
	}
}

func TestIngestReindexReplaces(t *testing.T) {
	ctx := context.Background()
	svc, vz := newTestIngest(newFakeEmbedder(3))

	first := makePassages("proj-1", "doc-1", "one", "two", "three")
	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", first))
	require.Len(t, indexedIDs(t, vz, "doc-1"), 3)

	// New ingestion run produces fresh passage ids. Only those may remain.
	second := makePassages("proj-1", "doc-1", "four", "five")
	second[0].ID = "doc-1-q1"
	second[1].ID = "doc-1-q2"
	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", second))

	ids := indexedIDs(t, vz, "doc-1")
	require.ElementsMatch(t, []string{"doc-1-q1", "doc-1-q2"}, ids)
}

func TestIngestIndexEmptyPassages(t *testing.T) {
	ctx := context.Background()
	svc, vz := newTestIngest(newFakeEmbedder(3))

	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", makePassages("proj-1", "doc-1", "one", "two")))
	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", nil))
	require.Empty(t, indexedIDs(t, vz, "doc-1"))
}

func TestIngestEmbedFailureKeepsIndex(t *testing.T) {
	ctx := context.Background()
	emb := newFakeEmbedder(3)
	svc, vz := newTestIngest(emb)

	first := makePassages("proj-1", "doc-1", "one", "two")
	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", first))

	emb.batchErr = fmt.Errorf("provider down")
	err := svc.IndexDocument(ctx, "proj-1", "doc-1", makePassages("proj-1", "doc-1", "three"))
	require.Error(t, err)

	// The failed run must not have touched the previously indexed entries.
	require.ElementsMatch(t, []string{"doc-1-p1", "doc-1-p2"}, indexedIDs(t, vz, "doc-1"))
}

func TestIngestRemoveDocument(t *testing.T) {
	ctx := context.Background()
	svc, vz := newTestIngest(newFakeEmbedder(3))

	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", makePassages("proj-1", "doc-1", "one")))
	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-2", makePassages("proj-1", "doc-2", "two")))

	require.NoError(t, svc.RemoveDocument(ctx, "doc-1"))
	require.Empty(t, indexedIDs(t, vz, "doc-1"))
	require.Len(t, indexedIDs(t, vz, "doc-2"), 1)
}

func TestIngestRemoveProject(t *testing.T) {
	ctx := context.Background()
	svc, vz := newTestIngest(newFakeEmbedder(3))

	require.NoError(t, svc.IndexDocument(ctx, "proj-1", "doc-1", makePassages("proj-1", "doc-1", "one")))
	require.NoError(t, svc.IndexDocument(ctx, "proj-2", "doc-2", makePassages("proj-2", "doc-2", "two")))

	require.NoError(t, svc.RemoveProject(ctx, "proj-1"))
	require.Empty(t, indexedIDs(t, vz, "doc-1"))
	require.Len(t, indexedIDs(t, vz, "doc-2"), 1)
}
