package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jitkb/internal/pkg/errcode"
	"github.com/xxxsen/jitkb/internal/pkg/response"
	"github.com/xxxsen/jitkb/internal/service"
)

// KBHandler exposes the knowledge-base lifecycle: status polling (which
// doubles as the lazy ingestion trigger), querying, transcripts and
// explicit TTL touches.
type KBHandler struct {
	status  *service.StatusService
	queries *service.QueryService
	touch   *service.TouchService
}

func NewKBHandler(status *service.StatusService, queries *service.QueryService, touch *service.TouchService) *KBHandler {
	return &KBHandler{status: status, queries: queries, touch: touch}
}

type statusRequest struct {
	ProjectID string `json:"project_id"`
}

func (h *KBHandler) Status(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.ProjectID == "" {
		response.Error(c, errcode.ErrInvalid, "project_id required")
		return
	}
	report, err := h.status.CheckStatus(c.Request.Context(), getTenantID(c), req.ProjectID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

type queryRequest struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func (h *KBHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.ProjectID == "" || req.Query == "" {
		response.Error(c, errcode.ErrInvalid, "project_id and query required")
		return
	}
	result, err := h.queries.Query(c.Request.Context(), service.QueryRequest{
		TenantID:  getTenantID(c),
		UserID:    getUserID(c),
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
		Query:     req.Query,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *KBHandler) History(c *gin.Context) {
	messages, err := h.queries.History(c.Request.Context(), getTenantID(c), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, messages)
}

func (h *KBHandler) DeleteHistory(c *gin.Context) {
	if err := h.queries.DeleteHistory(c.Request.Context(), getTenantID(c), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *KBHandler) Touch(c *gin.Context) {
	if err := h.touch.Touch(c.Request.Context(), getTenantID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
