package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

func TestNewProvider_UnknownName(t *testing.T) {
	_, err := NewProvider("no-such-provider", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewEmbedProvider("no-such-provider", map[string]interface{}{})
	require.Error(t, err)
}

func TestNewProvider_EmptyName(t *testing.T) {
	_, err := NewProvider("  ", nil)
	require.Error(t, err)
}

func TestDecodeConfig(t *testing.T) {
	dst := &openAIConfig{}
	err := decodeConfig(map[string]interface{}{
		"api_key":  "k1",
		"base_url": "http://example.test",
	}, dst)
	require.NoError(t, err)
	require.Equal(t, "k1", dst.APIKey)
	require.Equal(t, "http://example.test", dst.BaseURL)

	require.Error(t, decodeConfig(nil, dst))
}

func TestOpenAIEmbedBatch_OrderReassembled(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq openAIEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		// deliberately out of order
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.4,0.5]},{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("openai", map[string]interface{}{
		"api_key":  "test-key",
		"base_url": srv.URL,
	})
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), "text-embedding-3-small", []string{"first", "second"}, TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, "/embeddings", gotPath)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, []string{"first", "second"}, gotReq.Input)
	require.Len(t, vecs, 2)
	require.Equal(t, []float32{0.1, 0.2}, vecs[0])
	require.Equal(t, []float32{0.4, 0.5}, vecs[1])
}

func TestOpenAIEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1]}]}`))
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("openai", map[string]interface{}{
		"api_key":  "test-key",
		"base_url": srv.URL,
	})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), "m", []string{"a", "b"}, TaskTypeDocument)
	require.Error(t, err)
}

func TestOpenAIEmbed_EmptyKeyUnavailable(t *testing.T) {
	p, err := NewEmbedProvider("openai", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "m", "text", TaskTypeQuery)
	require.True(t, appErr.IsModelUnavailable(err))
}

func TestOpenAIGenerate(t *testing.T) {
	var gotPath string
	var gotReq openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  hello there  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{
		"api_key":  "test-key",
		"base_url": srv.URL,
	})
	require.NoError(t, err)

	out, err := p.Generate(context.Background(), "gpt-4o-mini", "say hello")
	require.NoError(t, err)
	require.Equal(t, "hello there", out)
	require.Equal(t, "/chat/completions", gotPath)
	require.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
}

func TestOpenAIGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{
		"api_key":  "test-key",
		"base_url": srv.URL,
	})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

type fakeEmbedder struct {
	name string
	vec  []float32
	err  error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for range texts {
		out = append(out, f.vec)
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string {
	return f.name
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func TestGroupEmbedder_Failover(t *testing.T) {
	broken := errors.New("down")
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "primary", Embedder: &fakeEmbedder{name: "primary", err: broken}},
		{Name: "backup", Embedder: &fakeEmbedder{name: "backup", vec: []float32{1, 2}}},
	})

	vec, err := g.Embed(context.Background(), "text", TaskTypeQuery)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, vec)

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b"}, TaskTypeDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	require.Equal(t, "primary|backup", g.ModelName())
}

func TestGroupEmbedder_AllFail(t *testing.T) {
	broken := errors.New("down")
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: &fakeEmbedder{err: broken}},
		{Name: "b", Embedder: &fakeEmbedder{err: broken}},
	})
	_, err := g.Embed(context.Background(), "text", TaskTypeQuery)
	require.ErrorIs(t, err, broken)
}

func TestGroupGenerator_Failover(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "dead", Generator: &fakeGenerator{err: errors.New("down")}},
		{Name: "alive", Generator: &fakeGenerator{text: "answer"}},
	})
	out, err := g.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "answer", out)
}

func TestNewGroupGenerator_Empty(t *testing.T) {
	require.Nil(t, NewGroupGenerator(nil))
	require.Nil(t, NewGroupEmbedder(nil))
}

func TestEmbedderBinding(t *testing.T) {
	var gotReq openAIEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.9]}]}`))
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("openai", map[string]interface{}{
		"api_key":  "k",
		"base_url": srv.URL,
	})
	require.NoError(t, err)

	e := NewEmbedder(p, "bound-model")
	require.Equal(t, "bound-model", e.ModelName())
	vec, err := e.Embed(context.Background(), "text", TaskTypeQuery)
	require.NoError(t, err)
	require.Equal(t, []float32{0.9}, vec)
	require.Equal(t, "bound-model", gotReq.Model)
}
