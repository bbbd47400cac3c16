package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

const (
	pollCacheSize = 2048
	pollCacheTTL  = 5 * time.Second
)

// StatusService is the status reconciler. Checking a project's status is
// also the lazy ingestion trigger: files that were never ingested, or
// failed with retry budget left, get kicked off as a side effect.
type StatusService struct {
	tracked   *repo.TrackedFileRepo
	ingest    *IngestService
	knowledge kb.Service
	tenants   TenantProvider
	broker    *stream.Broker
	pollCache *expirable.LRU[string, *kb.JobStatus]
}

func NewStatusService(
	tracked *repo.TrackedFileRepo,
	ingest *IngestService,
	knowledge kb.Service,
	tenants TenantProvider,
	broker *stream.Broker,
) *StatusService {
	return &StatusService{
		tracked:   tracked,
		ingest:    ingest,
		knowledge: knowledge,
		tenants:   tenants,
		broker:    broker,
		pollCache: expirable.NewLRU[string, *kb.JobStatus](pollCacheSize, nil, pollCacheTTL),
	}
}

// CheckStatus reconciles every file of a project against the knowledge
// base and reports the aggregate. Clients poll this until it says ready.
func (s *StatusService) CheckStatus(ctx context.Context, tenantID, projectID string) (*model.StatusReport, error) {
	tenant, ok := s.tenants.FindTenant(tenantID)
	if !ok {
		return nil, appErr.ErrNoTenant
	}
	files, err := s.tracked.ScanByProject(ctx, tenantID, projectID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &model.StatusReport{Status: model.ProjectStatusNoFiles}, nil
	}

	var pending []string
	for i := range files {
		file := &files[i]
		if file.State == model.FileStateIngesting {
			s.reconcileIngesting(ctx, tenant, file)
		}
		switch file.State {
		case model.FileStateNotIngested:
			pending = append(pending, file.FileID)
		case model.FileStateFailed:
			if file.Retries < tenant.MaxIngestRetries {
				pending = append(pending, file.FileID)
			}
		}
	}

	if len(pending) > 0 {
		results, err := s.ingest.EnsureIngested(ctx, tenantID, projectID, pending)
		if err != nil {
			return nil, err
		}
		// A started retry flips the row back to ingesting; reflect that in
		// the report without rereading every row.
		started := make(map[string]bool, len(results))
		for _, res := range results {
			if res.Outcome == model.OutcomeIngestionStarted || res.Outcome == model.OutcomeAlreadyInFlight {
				started[res.FileID] = true
			}
		}
		for i := range files {
			if started[files[i].FileID] {
				files[i].State = model.FileStateIngesting
			}
		}
	}

	report := &model.StatusReport{Files: make([]model.FileStatusReport, 0, len(files))}
	status := model.ProjectStatusReady
	for i := range files {
		file := &files[i]
		report.Files = append(report.Files, model.FileStatusReport{
			FileID:      file.FileID,
			State:       file.State,
			TTLDeadline: file.TTLDeadline,
			LastError:   file.LastError,
		})
		switch file.State {
		case model.FileStateFailed:
			if file.Retries >= tenant.MaxIngestRetries {
				status = model.ProjectStatusFailed
			} else if status != model.ProjectStatusFailed {
				status = model.ProjectStatusIngesting
			}
		case model.FileStateReady:
		default:
			if status != model.ProjectStatusFailed {
				status = model.ProjectStatusIngesting
			}
		}
	}
	report.Status = status
	return report, nil
}

// reconcileIngesting polls the ingestion job behind an in-flight file and
// applies the terminal result. The file struct is updated in place so the
// caller reports fresh state.
func (s *StatusService) reconcileIngesting(ctx context.Context, tenant *model.Tenant, file *model.TrackedFile) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("tenant_id", file.TenantID),
		zap.String("file_id", file.FileID),
		zap.String("job_ref", file.IngestionJobRef),
	)
	if file.IngestionJobRef == "" {
		// Claimed but not yet submitted; the next poll will see the ref.
		return
	}
	status, err := s.pollJob(ctx, file.IngestionJobRef)
	if err != nil {
		// Transient poll failures leave the row untouched; the timeout
		// sweep catches jobs that never resolve.
		logger.Warn("poll ingestion job", zap.Error(err))
		return
	}
	now := time.Now().Unix()
	switch status.State {
	case kb.JobSucceeded:
		deadline := now + int64(tenant.FilesTTLHours)*3600
		err := s.tracked.TransitionState(ctx, file.TenantID, file.FileID,
			model.FileStateIngesting, model.FileStateReady,
			map[string]interface{}{
				"ttl_deadline":      deadline,
				"ingestion_job_ref": "",
				"last_error":        "",
			}, now)
		if err != nil {
			if !appErr.IsRaceLost(err) {
				logger.Warn("mark file ready", zap.Error(err))
			}
			return
		}
		file.State = model.FileStateReady
		file.TTLDeadline = deadline
		file.LastError = ""
		s.publish(ctx, stream.Event{Kind: stream.EventModify, TenantID: file.TenantID, FileID: file.FileID})
		logger.Info("file ready", zap.Int64("ttl_deadline", deadline))
	case kb.JobFailed:
		err := s.tracked.TransitionState(ctx, file.TenantID, file.FileID,
			model.FileStateIngesting, model.FileStateFailed,
			map[string]interface{}{
				"last_error":        status.Reason,
				"ingestion_job_ref": "",
			}, now)
		if err != nil {
			if !appErr.IsRaceLost(err) {
				logger.Warn("mark file failed", zap.Error(err))
			}
			return
		}
		file.State = model.FileStateFailed
		file.LastError = status.Reason
		s.publish(ctx, stream.Event{Kind: stream.EventModify, TenantID: file.TenantID, FileID: file.FileID})
		logger.Info("ingestion failed", zap.String("reason", status.Reason))
	}
}

// pollJob caches provider responses briefly so a tight polling loop does
// not hammer the knowledge base.
func (s *StatusService) pollJob(ctx context.Context, jobRef string) (*kb.JobStatus, error) {
	if cached, ok := s.pollCache.Get(jobRef); ok {
		return cached, nil
	}
	status, err := s.knowledge.GetJobStatus(ctx, jobRef)
	if err != nil {
		return nil, err
	}
	s.pollCache.Add(jobRef, status)
	return status, nil
}

func (s *StatusService) publish(ctx context.Context, event stream.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, event); err != nil {
		logutil.GetLogger(ctx).Warn("publish stream event", zap.Error(err))
	}
}
