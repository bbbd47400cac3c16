package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/model"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
)

// TenantTimeouts reports how long a tenant's ingestion may stay in flight
// before it is written off.
type TenantTimeouts interface {
	FindTenant(tenantID string) (*model.Tenant, bool)
}

// IngestTimeoutSweepJob force-fails files stuck in INGESTING past their
// tenant's timeout. Without it a crashed ingestion would hold the file in
// flight forever and block every retry.
type IngestTimeoutSweepJob struct {
	tracked   *repo.TrackedFileRepo
	tenants   TenantTimeouts
	batchSize uint
}

func NewIngestTimeoutSweepJob(tracked *repo.TrackedFileRepo, tenants TenantTimeouts, batchSize uint) *IngestTimeoutSweepJob {
	if batchSize == 0 {
		batchSize = 200
	}
	return &IngestTimeoutSweepJob{tracked: tracked, tenants: tenants, batchSize: batchSize}
}

func (j *IngestTimeoutSweepJob) Name() string {
	return "ingest_timeout_sweep"
}

func (j *IngestTimeoutSweepJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	now := time.Now().Unix()
	// Scan with the loosest cutoff, then apply each tenant's own timeout.
	stale, err := j.tracked.ListStaleIngesting(ctx, now-60, j.batchSize)
	if err != nil {
		return err
	}
	var failed int
	for _, file := range stale {
		tenant, ok := j.tenants.FindTenant(file.TenantID)
		if !ok {
			logger.Warn("stale file of unknown tenant",
				zap.String("tenant_id", file.TenantID),
				zap.String("file_id", file.FileID),
			)
			continue
		}
		cutoff := now - int64(tenant.IngestTimeoutMins)*60
		if file.Mtime > cutoff {
			continue
		}
		err := j.tracked.TransitionState(ctx, file.TenantID, file.FileID,
			model.FileStateIngesting, model.FileStateFailed,
			map[string]interface{}{
				"last_error":        "ingestion timed out",
				"ingestion_job_ref": "",
			}, now)
		if appErr.IsRaceLost(err) {
			continue
		}
		if err != nil {
			logger.Warn("force-fail stale file",
				zap.String("tenant_id", file.TenantID),
				zap.String("file_id", file.FileID),
				zap.Error(err),
			)
			continue
		}
		failed++
		logger.Info("ingestion timed out",
			zap.String("tenant_id", file.TenantID),
			zap.String("file_id", file.FileID),
			zap.String("job_ref", file.IngestionJobRef),
		)
	}
	if failed > 0 {
		logger.Info("ingest timeout sweep done", zap.Int("failed", failed))
	}
	return nil
}
