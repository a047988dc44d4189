package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docquery/internal/ai"
	"github.com/xxxsen/docquery/internal/chunker"
	"github.com/xxxsen/docquery/internal/extract"
	"github.com/xxxsen/docquery/internal/handler"
	"github.com/xxxsen/docquery/internal/middleware"
	"github.com/xxxsen/docquery/internal/repo"
	"github.com/xxxsen/docquery/internal/service"
	"github.com/xxxsen/docquery/internal/vecindex"
	"github.com/xxxsen/docquery/test/testutil"
)

const testUploadLimit = 1 << 20

// fixedEmbedder maps every text to the same unit vector, so any indexed
// passage is a perfect match for any question.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fixedEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts {
		out = append(out, []float32{1, 0, 0})
	}
	return out, nil
}

func (fixedEmbedder) ModelName() string { return "test-embed" }

type fixedGenerator struct{}

func (fixedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "the short answer is 42", nil
}

func setupRouter(t *testing.T) (http.Handler, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, cleanup := testutil.OpenTestDB(t)
	projectRepo := repo.NewProjectRepo(db)
	docRepo := repo.NewDocumentRepo(db)
	passageRepo := repo.NewPassageRepo(db)
	queryRepo := repo.NewQueryRepo(db)

	vectorizer := service.NewVectorizer(fixedEmbedder{}, vecindex.NewMemory())
	ingestService := service.NewIngestService(passageRepo, chunker.NewChunker(200, 40), vectorizer)
	documentService := service.NewDocumentService(projectRepo, docRepo, passageRepo, ingestService)
	projectService := service.NewProjectService(projectRepo, docRepo, passageRepo, queryRepo, ingestService)
	generators := []ai.GeneratorEntry{{Name: "test-model", Generator: fixedGenerator{}}}
	queryService := service.NewQueryService(projectRepo, passageRepo, queryRepo, vectorizer, generators, service.QueryServiceConfig{
		TopK:           5,
		ScoreThreshold: 0.3,
		DefaultModel:   "test-model",
		Timeout:        5,
	})

	deps := handler.RouterDeps{
		Projects:  handler.NewProjectHandler(projectService),
		Documents: handler.NewDocumentHandler(documentService, testUploadLimit),
		Queries:   handler.NewQueryHandler(queryService),
		Health:    handler.NewHealthHandler(db),
		Properties: handler.NewPropertiesHandler(handler.InstanceProperties{
			MaxUploadSize:       testUploadLimit,
			SupportedExtensions: extract.SupportedExtensions(),
			VectorIndex:         "memory",
			EmbedModels:         []string{"test-embed"},
			GenerateModels:      []string{"test-model"},
		}),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)

	return engine, cleanup
}

type apiResponse struct {
	Code uint32          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doJSON sends one request and decodes the response envelope. Errors come
// back as HTTP 200 with a non-zero envelope code.
func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var out apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func decodeData(t *testing.T, resp apiResponse, target interface{}) {
	t.Helper()
	require.Zero(t, resp.Code, "unexpected error envelope: %s", resp.Msg)
	require.NoError(t, json.Unmarshal(resp.Data, target))
}
