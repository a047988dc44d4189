package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docquery/internal/ai"
	"github.com/xxxsen/docquery/internal/model"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/vecindex"
)

func newTestQueryService(emb *fakeEmbedder, gen ai.IGenerator, cfg QueryServiceConfig) (*QueryService, *Vectorizer) {
	vz := NewVectorizer(emb, vecindex.NewMemory())
	var entries []ai.GeneratorEntry
	if gen != nil {
		entries = append(entries, ai.GeneratorEntry{Name: cfg.DefaultModel, Generator: gen})
	}
	return NewQueryService(nil, nil, nil, vz, entries, cfg), vz
}

func seedIndex(t *testing.T, vz *Vectorizer, projectID, documentID string, contents ...string) {
	t.Helper()
	ing := NewIngestService(nil, nil, vz)
	err := ing.IndexDocument(context.Background(), projectID, documentID, makePassages(projectID, documentID, contents...))
	require.NoError(t, err)
}

func f32ptr(v float32) *float32 {
	return &v
}

func TestAnswerEmptyQuery(t *testing.T) {
	svc, _ := newTestQueryService(newFakeEmbedder(3), &fakeGenerator{}, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})
	_, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "   "})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestAnswerNoResults(t *testing.T) {
	gen := &fakeGenerator{response: "should not be called"}
	svc, _ := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "anything"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeNoResults, res.Outcome)
	require.Equal(t, noResultsAnswer, res.Answer)
	require.Empty(t, res.Citations)
	require.Zero(t, res.ContextPassageCount)
	require.Zero(t, gen.calls)
}

func TestAnswerBelowThreshold(t *testing.T) {
	emb := newFakeEmbedder(3)
	emb.vectors["off topic text"] = []float32{0, 1, 0}
	gen := &fakeGenerator{response: "unused"}
	svc, vz := newTestQueryService(emb, gen, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})
	seedIndex(t, vz, "proj-1", "doc-1", "off topic text")

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeNoResults, res.Outcome)
	require.Zero(t, gen.calls)
}

func TestAnswerSingleHit(t *testing.T) {
	content := "Go is a statically typed language."
	gen := &fakeGenerator{response: "Go is statically typed [1]."}
	svc, vz := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7, DefaultModel: "test-model"})
	seedIndex(t, vz, "proj-1", "doc-1", content)

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "what is go"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAnswered, res.Outcome)
	require.Equal(t, "Go is statically typed [1].", res.Answer)
	require.Equal(t, "test-model", res.Model)
	require.Equal(t, 1, res.ContextPassageCount)
	require.Len(t, res.Citations, 1)

	cit := res.Citations[0]
	require.Equal(t, "doc-1-p1", cit.PassageID)
	require.Equal(t, "doc-1", cit.DocumentID)
	require.Equal(t, 1, cit.Rank)
	require.Equal(t, content, cit.Excerpt)
	require.InDelta(t, 1.0, float64(cit.Score), 1e-4)

	require.Len(t, gen.prompts, 1)
	require.Contains(t, gen.prompts[0], "[1] "+content)
	require.Contains(t, gen.prompts[0], "Question: what is go")
}

func TestAnswerScopedToProject(t *testing.T) {
	gen := &fakeGenerator{response: "answer [1]."}
	svc, vz := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{TopK: 10, ScoreThreshold: 0.5})
	seedIndex(t, vz, "proj-1", "doc-1", "inside the project")
	seedIndex(t, vz, "proj-2", "doc-2", "another project entirely")

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 1)
	require.Equal(t, "doc-1", res.Citations[0].DocumentID)
}

func TestAnswerRankFollowsSearchOrder(t *testing.T) {
	emb := newFakeEmbedder(3)
	emb.vectors["best match"] = []float32{1, 0, 0}
	emb.vectors["close match"] = []float32{0.9, 0.1, 0}
	emb.vectors["weak match"] = []float32{0.5, 0.5, 0}
	gen := &fakeGenerator{response: "combined answer."}
	svc, vz := newTestQueryService(emb, gen, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})
	seedIndex(t, vz, "proj-1", "doc-1", "weak match", "best match", "close match")

	res, err := svc.Answer(context.Background(), AnswerInput{
		ProjectID:      "proj-1",
		QueryText:      "question",
		ScoreThreshold: f32ptr(0),
	})
	require.NoError(t, err)
	require.Len(t, res.Citations, 3)
	require.Equal(t, "best match", res.Citations[0].Excerpt)
	require.Equal(t, "close match", res.Citations[1].Excerpt)
	require.Equal(t, "weak match", res.Citations[2].Excerpt)
	for i, cit := range res.Citations {
		require.Equal(t, i+1, cit.Rank)
	}
	require.True(t, res.Citations[0].Score >= res.Citations[1].Score)
	require.True(t, res.Citations[1].Score >= res.Citations[2].Score)
}

func TestAnswerGenerationFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("rate limited")}
	svc, vz := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})
	seedIndex(t, vz, "proj-1", "doc-1", "first passage", "second passage")

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeDegraded, res.Outcome)
	require.Equal(t, degradedAnswerPrefix+"rate limited", res.Answer)
	require.Len(t, res.Citations, 2)
	require.Equal(t, 2, res.ContextPassageCount)
}

func TestAnswerEmptyGenerationDegrades(t *testing.T) {
	gen := &fakeGenerator{response: "   "}
	svc, vz := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})
	seedIndex(t, vz, "proj-1", "doc-1", "first passage")

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeDegraded, res.Outcome)
	require.Contains(t, res.Answer, "empty ai response")
	require.Len(t, res.Citations, 1)
}

func TestAnswerNoGenerator(t *testing.T) {
	svc, vz := newTestQueryService(newFakeEmbedder(3), nil, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7})
	seedIndex(t, vz, "proj-1", "doc-1", "first passage")

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeDegraded, res.Outcome)
	require.Len(t, res.Citations, 1)
}

func TestAnswerModelRouting(t *testing.T) {
	fast := &fakeGenerator{response: "fast answer."}
	smart := &fakeGenerator{response: "smart answer."}
	vz := NewVectorizer(newFakeEmbedder(3), vecindex.NewMemory())
	svc := NewQueryService(nil, nil, nil, vz, []ai.GeneratorEntry{
		{Name: "fast-model", Generator: fast},
		{Name: "smart-model", Generator: smart},
	}, QueryServiceConfig{TopK: 5, ScoreThreshold: 0.7, DefaultModel: "fast-model"})
	seedIndex(t, vz, "proj-1", "doc-1", "first passage")

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAnswered, res.Outcome)
	require.Equal(t, "fast answer.", res.Answer)
	require.Equal(t, "fast-model", res.Model)
	require.Zero(t, smart.calls)

	res, err = svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question", Model: "smart-model"})
	require.NoError(t, err)
	require.Equal(t, "smart answer.", res.Answer)
	require.Equal(t, "smart-model", res.Model)
	require.Equal(t, 1, smart.calls)
	require.Equal(t, 1, fast.calls)

	// Asking for a model that is not configured degrades instead of quietly
	// answering with another one.
	res, err = svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question", Model: "no-such-model"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeDegraded, res.Outcome)
	require.Len(t, res.Citations, 1)
}

func TestAnswerCacheSkipsSecondGeneration(t *testing.T) {
	gen := &fakeGenerator{response: "cached answer."}
	svc, vz := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{
		TopK:           5,
		ScoreThreshold: 0.7,
		CacheSize:      8,
		CacheTTL:       time.Minute,
	})
	seedIndex(t, vz, "proj-1", "doc-1", "first passage")

	first, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)

	second, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, first.Answer, second.Answer)

	_, err = svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "another question"})
	require.NoError(t, err)
	require.Equal(t, 2, gen.calls)
}

func TestAnswerNoResultsNotCached(t *testing.T) {
	gen := &fakeGenerator{response: "found it."}
	svc, vz := newTestQueryService(newFakeEmbedder(3), gen, QueryServiceConfig{
		TopK:           5,
		ScoreThreshold: 0.7,
		CacheSize:      8,
		CacheTTL:       time.Minute,
	})

	res, err := svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeNoResults, res.Outcome)

	// Content indexed after the miss must be visible on the next ask.
	seedIndex(t, vz, "proj-1", "doc-1", "first passage")
	res, err = svc.Answer(context.Background(), AnswerInput{ProjectID: "proj-1", QueryText: "question"})
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAnswered, res.Outcome)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("what is go", []string{"ctx one", "ctx two"})
	require.True(t, strings.HasPrefix(prompt, "You are a helpful assistant that answers questions based on the provided context.\n\n"))
	require.Contains(t, prompt, "Context from documents:\n\n[1] ctx one\n\n[2] ctx two\n\n")
	require.Contains(t, prompt, "\nQuestion: what is go\n\n")
	require.Contains(t, prompt, "Include relevant citations using [1], [2], etc.")
}

func TestExcerpt(t *testing.T) {
	short := "short passage"
	require.Equal(t, short, excerpt(short))

	exact := strings.Repeat("a", excerptRuneLimit)
	require.Equal(t, exact, excerpt(exact))

	long := strings.Repeat("b", excerptRuneLimit+50)
	got := excerpt(long)
	require.Equal(t, excerptRuneLimit+3, utf8.RuneCountInString(got))
	require.True(t, strings.HasSuffix(got, "..."))

	wide := strings.Repeat("снег", excerptRuneLimit)
	got = excerpt(wide)
	require.Equal(t, excerptRuneLimit+3, utf8.RuneCountInString(got))
}
