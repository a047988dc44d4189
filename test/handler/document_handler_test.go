package handler_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/errcode"
)

func createTestProject(t *testing.T, router http.Handler, name string) string {
	t.Helper()
	resp := doJSON(t, router, http.MethodPost, "/api/v1/projects", map[string]string{"name": name})
	var project model.Project
	decodeData(t, resp, &project)
	return project.ID
}

func TestDocumentUploadAndPassages(t *testing.T) {
	router, cleanup := setupRouter(t)
	defer cleanup()

	projectID := createTestProject(t, router, "upload-target")

	content := strings.Repeat("Go services keep their configuration in plain files. ", 12)
	resp := doJSON(t, router, http.MethodPost, "/api/v1/projects/"+projectID+"/documents", map[string]string{
		"filename": "guide.txt",
		"content":  content,
	})
	var doc model.Document
	decodeData(t, resp, &doc)
	require.Equal(t, model.DocumentStatusCompleted, doc.Status)
	require.Equal(t, "text/plain", doc.MimeType)
	require.Empty(t, doc.Content)
	require.Greater(t, doc.PassageCount, 1)

	resp = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/documents", nil)
	var docs []model.Document
	decodeData(t, resp, &docs)
	require.Len(t, docs, 1)
	require.Equal(t, doc.ID, docs[0].ID)

	resp = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/documents/"+doc.ID+"/passages", nil)
	var passages []model.Passage
	decodeData(t, resp, &passages)
	require.Len(t, passages, doc.PassageCount)
	require.NotEmpty(t, passages[0].Content)

	resp = doJSON(t, router, http.MethodDelete, "/api/v1/projects/"+projectID+"/documents/"+doc.ID, nil)
	require.Zero(t, resp.Code)

	resp = doJSON(t, router, http.MethodGet, "/api/v1/projects/"+projectID+"/documents", nil)
	decodeData(t, resp, &docs)
	require.Empty(t, docs)
}

func TestDocumentMultipartUpload(t *testing.T) {
	router, cleanup := setupRouter(t)
	defer cleanup()

	projectID := createTestProject(t, router, "multipart-target")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Notes\n\nDeploys happen every Tuesday from the main branch."))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+projectID+"/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	var doc model.Document
	decodeData(t, envelope, &doc)
	require.Equal(t, "notes.md", doc.Filename)
	require.Equal(t, "text/markdown", doc.MimeType)
	require.Equal(t, model.DocumentStatusCompleted, doc.Status)
}

func TestDocumentUploadValidation(t *testing.T) {
	router, cleanup := setupRouter(t)
	defer cleanup()

	projectID := createTestProject(t, router, "validation-target")

	resp := doJSON(t, router, http.MethodPost, "/api/v1/projects/"+projectID+"/documents", map[string]string{
		"filename": "photo.png",
		"content":  "binary",
	})
	require.Equal(t, uint32(errcode.ErrUnsupportedFormat), resp.Code)

	resp = doJSON(t, router, http.MethodPost, "/api/v1/projects/"+projectID+"/documents", map[string]string{
		"filename": "big.txt",
		"content":  strings.Repeat("a", testUploadLimit+1),
	})
	require.Equal(t, uint32(errcode.ErrUploadFailed), resp.Code)

	resp = doJSON(t, router, http.MethodPost, "/api/v1/projects/no-such-project/documents", map[string]string{
		"filename": "guide.txt",
		"content":  "text",
	})
	require.Equal(t, uint32(errcode.ErrNotFound), resp.Code)
}
