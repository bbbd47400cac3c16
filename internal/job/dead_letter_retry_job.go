package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

const deadLetterMaxAttempts = 10

// DeadLetterRetryJob re-drives events that fell out of the stream's
// redelivery budget. Letters that keep failing stay in the table with
// their attempt count; they are never dropped automatically.
type DeadLetterRetryJob struct {
	letters   *repo.DeadLetterRepo
	broker    *stream.Broker
	batchSize uint
}

func NewDeadLetterRetryJob(letters *repo.DeadLetterRepo, broker *stream.Broker, batchSize uint) *DeadLetterRetryJob {
	if batchSize == 0 {
		batchSize = 100
	}
	return &DeadLetterRetryJob{letters: letters, broker: broker, batchSize: batchSize}
}

func (j *DeadLetterRetryJob) Name() string {
	return "dead_letter_retry"
}

func (j *DeadLetterRetryJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	pending, err := j.letters.List(ctx, j.batchSize)
	if err != nil {
		return err
	}
	for _, letter := range pending {
		if letter.Attempts >= deadLetterMaxAttempts {
			continue
		}
		var event stream.Event
		if err := json.Unmarshal([]byte(letter.EventJSON), &event); err != nil {
			logger.Error("undecodable dead letter",
				zap.String("id", letter.ID),
				zap.Error(err),
			)
			continue
		}
		// A repeat failure re-consigns the event with this count, so the
		// cap above is reached even though each cycle writes a new row.
		event.Redrives = letter.Attempts + 1
		if err := j.broker.Publish(ctx, event); err != nil {
			now := time.Now().Unix()
			if merr := j.letters.MarkRetried(ctx, letter.ID, letter.Attempts+1, err.Error(), now); merr != nil {
				logger.Warn("record dead letter attempt", zap.String("id", letter.ID), zap.Error(merr))
			}
			continue
		}
		// Republished; a repeat failure re-consigns it with a fresh row.
		if err := j.letters.Delete(ctx, letter.ID); err != nil && !appErr.IsNotFound(err) {
			logger.Warn("remove re-driven dead letter", zap.String("id", letter.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		logger.Info("dead letter retry done", zap.Int("letters", len(pending)))
	}
	return nil
}
