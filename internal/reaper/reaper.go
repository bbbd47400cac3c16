package reaper

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/kb"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

// Reaper consumes tracking-store remove events and clears expired
// documents out of the knowledge base. It reacts only to TTL expiries;
// user-driven deletes are cleaned up at the source.
type Reaper struct {
	tracked   *repo.TrackedFileRepo
	knowledge kb.Service
}

func New(tracked *repo.TrackedFileRepo, knowledge kb.Service) *Reaper {
	return &Reaper{tracked: tracked, knowledge: knowledge}
}

// Attach subscribes the reaper to the change stream.
func (r *Reaper) Attach(broker *stream.Broker) {
	broker.Subscribe(r.Handle)
}

// Handle processes one stream event. Errors request redelivery, so every
// step here must be idempotent: the same expiry may be seen twice.
func (r *Reaper) Handle(ctx context.Context, event stream.Event) error {
	if event.Kind != stream.EventRemove || event.Cause != stream.CauseTTLExpiry {
		return nil
	}
	logger := logutil.GetLogger(ctx).With(
		zap.Uint64("seq", event.Seq),
		zap.String("tenant_id", event.TenantID),
		zap.String("file_id", event.FileID),
	)

	// Delivery is unordered and at-least-once: the file may have been
	// re-registered and re-ingested since this expiry fired. A live
	// tracking row wins over a stale event.
	_, err := r.tracked.Get(ctx, event.TenantID, event.FileID)
	if err == nil {
		logger.Info("skip reap, file is tracked again")
		return nil
	}
	if !appErr.IsNotFound(err) {
		return fmt.Errorf("check tracking row: %w", err)
	}

	err = r.knowledge.DeleteDocument(ctx, kb.FileRef{
		TenantID: event.TenantID,
		FileID:   event.FileID,
	})
	if err != nil {
		return fmt.Errorf("delete expired document: %w", err)
	}
	logger.Info("expired document reaped")
	return nil
}
