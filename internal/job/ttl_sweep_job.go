package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

// TTLSweepJob expires ready files whose deadline has lapsed. The delete
// is conditioned on the deadline the sweep observed, so a touch that
// lands mid-sweep saves the file.
type TTLSweepJob struct {
	tracked   *repo.TrackedFileRepo
	broker    *stream.Broker
	batchSize uint
}

func NewTTLSweepJob(tracked *repo.TrackedFileRepo, broker *stream.Broker, batchSize uint) *TTLSweepJob {
	if batchSize == 0 {
		batchSize = 200
	}
	return &TTLSweepJob{tracked: tracked, broker: broker, batchSize: batchSize}
}

func (j *TTLSweepJob) Name() string {
	return "ttl_sweep"
}

func (j *TTLSweepJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	now := time.Now().Unix()
	expired, err := j.tracked.ListExpired(ctx, now, j.batchSize)
	if err != nil {
		return err
	}
	var removed int
	for i := range expired {
		file := expired[i]
		err := j.tracked.DeleteExpired(ctx, file.TenantID, file.FileID, file.TTLDeadline)
		if appErr.IsRaceLost(err) {
			// Touched or deleted since we looked; not expired anymore.
			continue
		}
		if err != nil {
			logger.Warn("delete expired row",
				zap.String("tenant_id", file.TenantID),
				zap.String("file_id", file.FileID),
				zap.Error(err),
			)
			continue
		}
		removed++
		if perr := j.broker.Publish(ctx, stream.Event{
			Kind:     stream.EventRemove,
			Cause:    stream.CauseTTLExpiry,
			TenantID: file.TenantID,
			FileID:   file.FileID,
			OldImage: &file,
		}); perr != nil {
			logger.Error("publish expiry event",
				zap.String("tenant_id", file.TenantID),
				zap.String("file_id", file.FileID),
				zap.Error(perr),
			)
		}
	}
	if len(expired) > 0 {
		logger.Info("ttl sweep done",
			zap.Int("candidates", len(expired)),
			zap.Int("removed", removed),
		)
	}
	return nil
}
