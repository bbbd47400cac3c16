package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/middleware"
	"github.com/xxxsen/jitkb/internal/pkg/errcode"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

func getTenantID(c *gin.Context) string {
	return c.GetString(middleware.ContextTenantIDKey)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("tenant_id", getTenantID(c)),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	switch {
	case appErr.Is(err, appErr.ErrUnauthorized):
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
	case appErr.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case appErr.Is(err, appErr.ErrNoTenant):
		response.Error(c, errcode.ErrNoTenant, "unknown tenant")
	case appErr.IsNotFound(err):
		response.Error(c, errcode.ErrNotFound, "not found")
	case appErr.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case appErr.IsConflict(err):
		response.Error(c, errcode.ErrConflict, "conflict")
	case appErr.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, err.Error())
	case appErr.IsThrottled(err):
		response.Error(c, errcode.ErrKnowledgeBaseUnavailable, "knowledge base is busy, retry later")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
