package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/filestore"
	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

// TenantProvider resolves tenant configuration. Tenants are fixed per
// deployment; a missing tenant is a configuration error, never retried.
type TenantProvider interface {
	FindTenant(tenantID string) (*model.Tenant, bool)
}

// IngestService is the ingestion gateway. It deduplicates ingestion via
// conditional state transitions: for any file, at most one caller wins
// the NOT_INGESTED->INGESTING write and submits the external job.
type IngestService struct {
	tracked      *repo.TrackedFileRepo
	projectFiles *repo.ProjectFileRepo
	knowledge    kb.Service
	store        filestore.Store
	tenants      TenantProvider
	broker       *stream.Broker
}

func NewIngestService(
	tracked *repo.TrackedFileRepo,
	projectFiles *repo.ProjectFileRepo,
	knowledge kb.Service,
	store filestore.Store,
	tenants TenantProvider,
	broker *stream.Broker,
) *IngestService {
	return &IngestService{
		tracked:      tracked,
		projectFiles: projectFiles,
		knowledge:    knowledge,
		store:        store,
		tenants:      tenants,
		broker:       broker,
	}
}

// EnsureIngested makes sure every listed file is ingested or on its way.
// Each file reports an independent outcome; partial failure never raises.
func (s *IngestService) EnsureIngested(ctx context.Context, tenantID, projectID string, fileIDs []string) ([]model.FileIngestResult, error) {
	tenant, ok := s.tenants.FindTenant(tenantID)
	if !ok {
		return nil, appErr.ErrNoTenant
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("tenant_id", tenantID),
		zap.String("project_id", projectID),
	)

	results := make([]model.FileIngestResult, 0, len(fileIDs))
	var winners []string
	now := time.Now().Unix()

	for _, fileID := range fileIDs {
		outcome := s.claimFile(ctx, tenant, projectID, fileID, now)
		if outcome.Outcome == model.OutcomeIngestionStarted {
			winners = append(winners, fileID)
		}
		results = append(results, outcome)
	}
	if len(winners) == 0 {
		return results, nil
	}

	jobRef, err := s.submit(ctx, tenantID, projectID, winners)
	if err != nil {
		logger.Warn("ingestion submit failed", zap.Error(err))
		s.failWinners(ctx, tenantID, winners, err)
		for i := range results {
			if results[i].Outcome == model.OutcomeIngestionStarted {
				results[i] = model.FileIngestResult{
					FileID:  results[i].FileID,
					Outcome: model.OutcomeFailed,
					Reason:  err.Error(),
				}
			}
		}
		return results, nil
	}

	for _, fileID := range winners {
		// Same-state transition just to attach the job ref; a row that
		// left INGESTING in the meantime keeps whatever happened to it.
		err := s.tracked.TransitionState(ctx, tenantID, fileID,
			model.FileStateIngesting, model.FileStateIngesting,
			map[string]interface{}{"ingestion_job_ref": jobRef}, time.Now().Unix())
		if err != nil && !appErr.IsRaceLost(err) {
			logger.Warn("attach job ref failed", zap.String("file_id", fileID), zap.Error(err))
		}
	}
	logger.Info("ingestion started",
		zap.Int("files", len(winners)),
		zap.String("job_ref", jobRef),
	)
	return results, nil
}

func (s *IngestService) claimFile(ctx context.Context, tenant *model.Tenant, projectID, fileID string, now int64) model.FileIngestResult {
	logger := logutil.GetLogger(ctx).With(
		zap.String("tenant_id", tenant.ID),
		zap.String("file_id", fileID),
	)
	file, err := s.tracked.Get(ctx, tenant.ID, fileID)
	if appErr.IsNotFound(err) {
		// Upload normally creates the row; recreate it here so a lost
		// row just restarts the lifecycle.
		created := &model.TrackedFile{
			TenantID:  tenant.ID,
			FileID:    fileID,
			ProjectID: projectID,
			State:     model.FileStateNotIngested,
			Ctime:     now,
			Mtime:     now,
		}
		if err := s.tracked.PutIfAbsent(ctx, created); err != nil && !appErr.IsConflict(err) {
			return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeFailed, Reason: err.Error()}
		}
		s.publish(ctx, stream.Event{Kind: stream.EventInsert, TenantID: tenant.ID, FileID: fileID})
		file, err = s.tracked.Get(ctx, tenant.ID, fileID)
	}
	if err != nil {
		return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeFailed, Reason: err.Error()}
	}

	switch file.State {
	case model.FileStateReady:
		return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeAlreadyReady}
	case model.FileStateIngesting:
		return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeAlreadyInFlight}
	case model.FileStateFailed:
		if file.Retries >= tenant.MaxIngestRetries {
			return model.FileIngestResult{
				FileID:  fileID,
				Outcome: model.OutcomeFailed,
				Reason:  fmt.Sprintf("retry budget exhausted after %d attempts: %s", file.Retries, file.LastError),
			}
		}
		err := s.tracked.TransitionState(ctx, tenant.ID, fileID,
			model.FileStateFailed, model.FileStateIngesting,
			map[string]interface{}{
				"retries":    file.Retries + 1,
				"last_error": "",
			}, now)
		if appErr.IsRaceLost(err) {
			return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeAlreadyInFlight}
		}
		if err != nil {
			return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeFailed, Reason: err.Error()}
		}
		logger.Info("retrying failed file", zap.Int("attempt", file.Retries+1))
		s.publish(ctx, stream.Event{Kind: stream.EventModify, TenantID: tenant.ID, FileID: fileID})
		return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeIngestionStarted}
	default: // not_ingested
		err := s.tracked.TransitionState(ctx, tenant.ID, fileID,
			model.FileStateNotIngested, model.FileStateIngesting, nil, now)
		if appErr.IsRaceLost(err) {
			// Another caller already claimed it; success by another.
			return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeAlreadyInFlight}
		}
		if err != nil {
			return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeFailed, Reason: err.Error()}
		}
		s.publish(ctx, stream.Event{Kind: stream.EventModify, TenantID: tenant.ID, FileID: fileID})
		return model.FileIngestResult{FileID: fileID, Outcome: model.OutcomeIngestionStarted}
	}
}

// submit sends one batched ingestion request for every claimed file.
func (s *IngestService) submit(ctx context.Context, tenantID, projectID string, fileIDs []string) (string, error) {
	documents := make([]kb.DocumentRef, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		meta, err := s.projectFiles.Get(ctx, tenantID, fileID)
		if err != nil {
			return "", fmt.Errorf("file metadata %s: %w", fileID, err)
		}
		documents = append(documents, kb.DocumentRef{
			FileID:    fileID,
			SourceURI: s.store.URI(meta.Bucket, meta.S3Key),
			Metadata: map[string]string{
				"tenant_id":  tenantID,
				"project_id": projectID,
				"file_id":    fileID,
			},
		})
	}
	return s.knowledge.StartIngestion(ctx, kb.IngestRequest{
		TenantID:  tenantID,
		ProjectID: projectID,
		Documents: documents,
	})
}

func (s *IngestService) failWinners(ctx context.Context, tenantID string, fileIDs []string, cause error) {
	now := time.Now().Unix()
	for _, fileID := range fileIDs {
		err := s.tracked.TransitionState(ctx, tenantID, fileID,
			model.FileStateIngesting, model.FileStateFailed,
			map[string]interface{}{"last_error": cause.Error()}, now)
		if err != nil && !appErr.IsRaceLost(err) {
			logutil.GetLogger(ctx).Warn("mark file failed",
				zap.String("file_id", fileID),
				zap.Error(err),
			)
		}
	}
}

func (s *IngestService) publish(ctx context.Context, event stream.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, event); err != nil {
		logutil.GetLogger(ctx).Warn("publish stream event", zap.Error(err))
	}
}
