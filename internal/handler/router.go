package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/jitkb/internal/middleware"
)

type RouterDeps struct {
	Projects    *ProjectHandler
	KB          *KBHandler
	JWTSecret   []byte
	QueryLimits middleware.LimitResolver
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/projects", deps.Projects.Create)
	authGroup.GET("/projects", deps.Projects.List)
	authGroup.GET("/projects/:id", deps.Projects.Get)
	authGroup.DELETE("/projects/:id", deps.Projects.Delete)
	authGroup.POST("/projects/:id/files", deps.Projects.RegisterFile)
	authGroup.GET("/projects/:id/files", deps.Projects.ListFiles)
	authGroup.DELETE("/projects/:id/files/:file_id", deps.Projects.DeleteFile)

	authGroup.POST("/knowledge-base/status", deps.KB.Status)
	authGroup.GET("/knowledge-base/history/:id", deps.KB.History)
	authGroup.DELETE("/knowledge-base/history/:id", deps.KB.DeleteHistory)
	authGroup.POST("/files/:id/touch", deps.KB.Touch)

	queryGroup := authGroup.Group("")
	queryGroup.Use(middleware.QueryRateLimit(deps.QueryLimits))
	queryGroup.POST("/knowledge-base/query", deps.KB.Query)
}
