package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/filestore"
	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

// ProjectService manages projects and their file registrations. Files are
// uploaded to the object store out of band; registering one here creates
// the metadata row plus the tracking record that drives its lifecycle.
type ProjectService struct {
	projects     *repo.ProjectRepo
	projectFiles *repo.ProjectFileRepo
	tracked      *repo.TrackedFileRepo
	history      *repo.ChatHistoryRepo
	knowledge    kb.Service
	store        filestore.Store
	tenants      TenantProvider
	broker       *stream.Broker
}

func NewProjectService(
	projects *repo.ProjectRepo,
	projectFiles *repo.ProjectFileRepo,
	tracked *repo.TrackedFileRepo,
	history *repo.ChatHistoryRepo,
	knowledge kb.Service,
	store filestore.Store,
	tenants TenantProvider,
	broker *stream.Broker,
) *ProjectService {
	return &ProjectService{
		projects:     projects,
		projectFiles: projectFiles,
		tracked:      tracked,
		history:      history,
		knowledge:    knowledge,
		store:        store,
		tenants:      tenants,
		broker:       broker,
	}
}

func (s *ProjectService) Create(ctx context.Context, tenantID, userID, name string) (*model.Project, error) {
	if _, ok := s.tenants.FindTenant(tenantID); !ok {
		return nil, appErr.ErrNoTenant
	}
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", appErr.ErrInvalid)
	}
	now := time.Now().Unix()
	project := &model.Project{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		Name:     name,
		Ctime:    now,
		Mtime:    now,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *ProjectService) Get(ctx context.Context, tenantID, projectID string) (*model.Project, error) {
	return s.projects.Get(ctx, tenantID, projectID)
}

func (s *ProjectService) List(ctx context.Context, tenantID, userID string) ([]model.Project, error) {
	return s.projects.ListByTenantUser(ctx, tenantID, userID)
}

type RegisterFileRequest struct {
	TenantID  string
	UserID    string
	ProjectID string
	Name      string
	Bucket    string
	S3Key     string
	Size      int64
}

// RegisterFile records an already uploaded object as a project file and
// seeds its tracking record. Ingestion does not start here; the first
// status check or query pulls the file in lazily.
func (s *ProjectService) RegisterFile(ctx context.Context, req RegisterFileRequest) (*model.ProjectFile, error) {
	tenant, ok := s.tenants.FindTenant(req.TenantID)
	if !ok {
		return nil, appErr.ErrNoTenant
	}
	if req.Name == "" || req.S3Key == "" {
		return nil, fmt.Errorf("%w: file name and key are required", appErr.ErrInvalid)
	}
	if _, err := s.projects.Get(ctx, req.TenantID, req.ProjectID); err != nil {
		return nil, err
	}
	if tenant.MaxFiles > 0 {
		count, err := s.projectFiles.CountByProject(ctx, req.TenantID, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if count >= tenant.MaxFiles {
			return nil, fmt.Errorf("%w: project file limit %d reached", appErr.ErrTooMany, tenant.MaxFiles)
		}
	}
	uri := s.store.URI(req.Bucket, req.S3Key)
	exists, err := s.store.Exists(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("check object %s: %w", uri, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: object not found: %s", appErr.ErrInvalid, uri)
	}

	now := time.Now().Unix()
	file := &model.ProjectFile{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		Name:      req.Name,
		Bucket:    req.Bucket,
		S3Key:     req.S3Key,
		Size:      req.Size,
		Ctime:     now,
	}
	if err := s.projectFiles.Create(ctx, file); err != nil {
		return nil, err
	}
	err = s.tracked.PutIfAbsent(ctx, &model.TrackedFile{
		TenantID:  req.TenantID,
		FileID:    file.ID,
		ProjectID: req.ProjectID,
		State:     model.FileStateNotIngested,
		Ctime:     now,
		Mtime:     now,
	})
	if err != nil && !appErr.IsConflict(err) {
		return nil, err
	}
	s.publish(ctx, stream.Event{
		Kind:     stream.EventInsert,
		TenantID: req.TenantID,
		FileID:   file.ID,
	})
	logutil.GetLogger(ctx).Info("file registered",
		zap.String("tenant_id", req.TenantID),
		zap.String("project_id", req.ProjectID),
		zap.String("file_id", file.ID),
	)
	return file, nil
}

func (s *ProjectService) ListFiles(ctx context.Context, tenantID, projectID string) ([]model.ProjectFile, error) {
	return s.projectFiles.ListByProject(ctx, tenantID, projectID)
}

// DeleteFile removes a file everywhere: metadata, tracking record and the
// knowledge base. The remove event carries the user_delete cause so the
// reaper knows this cleanup already happened.
func (s *ProjectService) DeleteFile(ctx context.Context, tenantID, fileID string) error {
	oldImage, err := s.tracked.Get(ctx, tenantID, fileID)
	if err != nil && !appErr.IsNotFound(err) {
		return err
	}
	if err := s.projectFiles.Delete(ctx, tenantID, fileID); err != nil {
		return err
	}
	if err := s.tracked.Delete(ctx, tenantID, fileID); err != nil && !appErr.IsNotFound(err) {
		return err
	}
	if err := s.knowledge.DeleteDocument(ctx, kb.FileRef{TenantID: tenantID, FileID: fileID}); err != nil {
		// The row is gone, so a retry cannot come from here. Log and let
		// the provider's own GC deal with the orphan.
		logutil.GetLogger(ctx).Warn("delete document from knowledge base",
			zap.String("tenant_id", tenantID),
			zap.String("file_id", fileID),
			zap.Error(err),
		)
	}
	s.publish(ctx, stream.Event{
		Kind:     stream.EventRemove,
		Cause:    stream.CauseUserDelete,
		TenantID: tenantID,
		FileID:   fileID,
		OldImage: oldImage,
	})
	return nil
}

// Delete tears a project down: every file, the transcripts, then the
// project row itself.
func (s *ProjectService) Delete(ctx context.Context, tenantID, projectID string) error {
	project, err := s.projects.Get(ctx, tenantID, projectID)
	if err != nil {
		return err
	}
	files, err := s.projectFiles.ListByProject(ctx, tenantID, projectID)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := s.DeleteFile(ctx, tenantID, file.ID); err != nil && !appErr.IsNotFound(err) {
			return err
		}
	}
	if err := s.history.DeleteByProject(ctx, tenantID, project.UserID, projectID); err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, tenantID, projectID); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("project deleted",
		zap.String("tenant_id", tenantID),
		zap.String("project_id", projectID),
		zap.Int("files", len(files)),
	)
	return nil
}

func (s *ProjectService) publish(ctx context.Context, event stream.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, event); err != nil {
		logutil.GetLogger(ctx).Warn("publish stream event", zap.Error(err))
	}
}
