package handler

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docquery/internal/pkg/errcode"
	"github.com/xxxsen/docquery/internal/pkg/response"
	"github.com/xxxsen/docquery/internal/service"
)

type DocumentHandler struct {
	documents     *service.DocumentService
	maxUploadSize int64
}

func NewDocumentHandler(documents *service.DocumentService, maxUploadSize int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxUploadSize: maxUploadSize}
}

type textUploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Upload accepts either a multipart file under the "file" field or a JSON
// body carrying the text inline.
func (h *DocumentHandler) Upload(c *gin.Context) {
	projectID := c.Param("id")
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.uploadMultipart(c, projectID)
		return
	}
	var req textUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if h.maxUploadSize > 0 && int64(len(req.Content)) > h.maxUploadSize {
		response.Error(c, errcode.ErrUploadFailed, "file too large (max "+formatUploadLimit(h.maxUploadSize)+")")
		return
	}
	doc, err := h.documents.Upload(c.Request.Context(), projectID, req.Filename, []byte(req.Content))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) uploadMultipart(c *gin.Context, projectID string) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "file is required")
		return
	}
	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		response.Error(c, errcode.ErrUploadFailed, "file too large (max "+formatUploadLimit(h.maxUploadSize)+")")
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "failed to open file")
		return
	}
	defer opened.Close()

	data, err := io.ReadAll(opened)
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "failed to read file")
		return
	}
	doc, err := h.documents.Upload(c.Request.Context(), projectID, file.Filename, data)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	docs, err := h.documents.List(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"), c.Param("doc_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	doc, err := h.documents.Reprocess(c.Request.Context(), c.Param("id"), c.Param("doc_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Passages(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	passages, err := h.documents.ListPassages(c.Request.Context(), c.Param("id"), c.Param("doc_id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, passages)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id"), c.Param("doc_id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
