package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/pkg/errcode"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case appErr.IsNotFound(err):
		response.Error(c, errcode.ErrNotFound, "not found")
	case appErr.IsInvalid(err):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case appErr.IsConflict(err):
		response.Error(c, errcode.ErrConflict, "conflict")
	case appErr.IsUnsupportedFormat(err):
		response.Error(c, errcode.ErrUnsupportedFormat, err.Error())
	case appErr.IsModelUnavailable(err):
		response.Error(c, errcode.ErrAIUnavailable, "model unavailable")
	case appErr.IsDimensionMismatch(err):
		response.Error(c, errcode.ErrDimensionMismatch, "embedding dimension mismatch")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}

// queryInt reads a non-negative integer query parameter. It writes the error
// response itself, the second return tells the caller to stop.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		response.Error(c, errcode.ErrInvalid, "invalid "+name)
		return 0, false
	}
	return parsed, true
}
