package reaper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

// DeadLetterSink persists undeliverable stream events so a cron job can
// re-drive them later. Implements stream.DeadLetterSink.
type DeadLetterSink struct {
	letters *repo.DeadLetterRepo
}

func NewDeadLetterSink(letters *repo.DeadLetterRepo) *DeadLetterSink {
	return &DeadLetterSink{letters: letters}
}

func (s *DeadLetterSink) Consign(ctx context.Context, event stream.Event, cause error) {
	logger := logutil.GetLogger(ctx).With(
		zap.Uint64("seq", event.Seq),
		zap.String("tenant_id", event.TenantID),
		zap.String("file_id", event.FileID),
	)
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("encode dead letter", zap.Error(err))
		return
	}
	now := time.Now().Unix()
	// Redrives carries the count from prior dead-letter cycles, so a
	// permanently failing event accumulates attempts instead of looping
	// between the table and the broker forever.
	letter := &model.DeadLetter{
		ID:        uuid.NewString(),
		TenantID:  event.TenantID,
		FileID:    event.FileID,
		EventJSON: string(data),
		Attempts:  event.Redrives,
		LastError: cause.Error(),
		Ctime:     now,
		Mtime:     now,
	}
	if err := s.letters.Save(ctx, letter); err != nil {
		// Worst case: the expiry cleanup for this file is lost until the
		// next full sweep notices the orphan.
		logger.Error("persist dead letter", zap.Error(err))
		return
	}
	logger.Warn("event consigned to dead letter", zap.String("id", letter.ID))
}
