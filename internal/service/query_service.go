package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
)

// QueryService answers questions against a project's knowledge base and
// keeps the chat transcript. A successful answer counts as access: every
// cited file gets its TTL refreshed.
type QueryService struct {
	knowledge    kb.Service
	projectFiles *repo.ProjectFileRepo
	history      *repo.ChatHistoryRepo
	touch        *TouchService
}

func NewQueryService(
	knowledge kb.Service,
	projectFiles *repo.ProjectFileRepo,
	history *repo.ChatHistoryRepo,
	touch *TouchService,
) *QueryService {
	return &QueryService{
		knowledge:    knowledge,
		projectFiles: projectFiles,
		history:      history,
		touch:        touch,
	}
}

type QueryRequest struct {
	TenantID  string
	UserID    string
	ProjectID string
	SessionID string
	Query     string
}

type QueryResult struct {
	Answer    string             `json:"answer"`
	SessionID string             `json:"session_id"`
	Sources   []model.ChatSource `json:"sources,omitempty"`
}

func (s *QueryService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	files, err := s.projectFiles.ListByProject(ctx, req.TenantID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErr.ErrNotFound
	}
	fileIDs := make([]string, 0, len(files))
	for _, file := range files {
		fileIDs = append(fileIDs, file.ID)
	}

	result, err := s.knowledge.Retrieve(ctx, kb.RetrieveRequest{
		TenantID:  req.TenantID,
		ProjectID: req.ProjectID,
		FileIDs:   fileIDs,
		SessionID: req.SessionID,
		Query:     req.Query,
	})
	if err != nil {
		return nil, err
	}

	sources := make([]model.ChatSource, 0, len(result.Citations))
	cited := make([]string, 0, len(result.Citations))
	for _, citation := range result.Citations {
		sources = append(sources, model.ChatSource{FileID: citation.FileID, Content: citation.Content})
		cited = append(cited, citation.FileID)
	}
	s.touch.TouchAll(ctx, req.TenantID, cited)

	now := time.Now().UnixMilli()
	s.record(ctx, &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: result.SessionID,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Type:      "user",
		Content:   req.Query,
		Timestamp: now,
	})
	s.record(ctx, &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: result.SessionID,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Type:      "ai",
		Content:   result.Answer,
		Sources:   sources,
		Timestamp: now + 1,
	})

	return &QueryResult{
		Answer:    result.Answer,
		SessionID: result.SessionID,
		Sources:   sources,
	}, nil
}

// record saves one transcript entry. History is best effort; losing a row
// never fails the query that produced the answer.
func (s *QueryService) record(ctx context.Context, msg *model.ChatMessage) {
	if err := s.history.Save(ctx, msg); err != nil {
		logutil.GetLogger(ctx).Warn("save chat message",
			zap.String("session_id", msg.SessionID),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}

func (s *QueryService) History(ctx context.Context, tenantID, userID, projectID string) ([]model.ChatMessage, error) {
	return s.history.ListByProject(ctx, tenantID, userID, projectID)
}

func (s *QueryService) DeleteHistory(ctx context.Context, tenantID, userID, projectID string) error {
	return s.history.DeleteByProject(ctx, tenantID, userID, projectID)
}
