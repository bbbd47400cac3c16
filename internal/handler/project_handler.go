package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jitkb/internal/pkg/errcode"
	"github.com/xxxsen/jitkb/internal/pkg/response"
	"github.com/xxxsen/jitkb/internal/service"
)

type ProjectHandler struct {
	projects *service.ProjectService
}

func NewProjectHandler(projects *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.Name == "" {
		response.Error(c, errcode.ErrInvalid, "name required")
		return
	}
	project, err := h.projects.Create(c.Request.Context(), getTenantID(c), getUserID(c), req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context(), getTenantID(c), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, projects)
}

func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), getTenantID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, project)
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.projects.Delete(c.Request.Context(), getTenantID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

type registerFileRequest struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
	S3Key  string `json:"s3_key"`
	Size   int64  `json:"size"`
}

func (h *ProjectHandler) RegisterFile(c *gin.Context) {
	var req registerFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	file, err := h.projects.RegisterFile(c.Request.Context(), service.RegisterFileRequest{
		TenantID:  getTenantID(c),
		UserID:    getUserID(c),
		ProjectID: c.Param("id"),
		Name:      req.Name,
		Bucket:    req.Bucket,
		S3Key:     req.S3Key,
		Size:      req.Size,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, file)
}

func (h *ProjectHandler) ListFiles(c *gin.Context) {
	files, err := h.projects.ListFiles(c.Request.Context(), getTenantID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, files)
}

func (h *ProjectHandler) DeleteFile(c *gin.Context) {
	if err := h.projects.DeleteFile(c.Request.Context(), getTenantID(c), c.Param("file_id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
