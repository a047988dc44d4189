package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docquery/internal/pkg/errcode"
	"github.com/xxxsen/docquery/internal/pkg/response"
	"github.com/xxxsen/docquery/internal/service"
)

type QueryHandler struct {
	queries *service.QueryService
}

func NewQueryHandler(queries *service.QueryService) *QueryHandler {
	return &QueryHandler{queries: queries}
}

type submitQueryRequest struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k"`
	ScoreThreshold *float32 `json:"score_threshold"`
	Model          string   `json:"model"`
}

func (h *QueryHandler) Submit(c *gin.Context) {
	var req submitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	record, err := h.queries.Submit(c.Request.Context(), service.AnswerInput{
		ProjectID:      c.Param("id"),
		QueryText:      req.Query,
		TopK:           req.TopK,
		ScoreThreshold: req.ScoreThreshold,
		Model:          req.Model,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, record)
}

func (h *QueryHandler) History(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	records, err := h.queries.History(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, records)
}

func (h *QueryHandler) Get(c *gin.Context) {
	record, err := h.queries.Get(c.Request.Context(), c.Param("id"), c.Param("query_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, record)
}
