package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/stream"
)

// TouchService is the access refresher. Any meaningful access to a ready
// file pushes its expiry deadline out by the tenant's full TTL window.
type TouchService struct {
	tracked *repo.TrackedFileRepo
	tenants TenantProvider
	broker  *stream.Broker
}

func NewTouchService(tracked *repo.TrackedFileRepo, tenants TenantProvider, broker *stream.Broker) *TouchService {
	return &TouchService{tracked: tracked, tenants: tenants, broker: broker}
}

// Touch refreshes a file's TTL. Files that are missing or not ready are
// left alone; touching them is a silent no-op, not an error.
func (s *TouchService) Touch(ctx context.Context, tenantID, fileID string) error {
	tenant, ok := s.tenants.FindTenant(tenantID)
	if !ok {
		return appErr.ErrNoTenant
	}
	now := time.Now().Unix()
	deadline := now + int64(tenant.FilesTTLHours)*3600
	err := s.tracked.ExtendTTL(ctx, tenantID, fileID, deadline, now)
	if appErr.IsRaceLost(err) {
		return nil
	}
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("file touched",
		zap.String("tenant_id", tenantID),
		zap.String("file_id", fileID),
		zap.Int64("ttl_deadline", deadline),
	)
	if s.broker != nil {
		if perr := s.broker.Publish(ctx, stream.Event{
			Kind:     stream.EventModify,
			TenantID: tenantID,
			FileID:   fileID,
		}); perr != nil {
			logutil.GetLogger(ctx).Warn("publish stream event", zap.Error(perr))
		}
	}
	return nil
}

// TouchAll refreshes a batch, typically the files cited by one answer.
func (s *TouchService) TouchAll(ctx context.Context, tenantID string, fileIDs []string) {
	seen := make(map[string]struct{}, len(fileIDs))
	for _, fileID := range fileIDs {
		if _, ok := seen[fileID]; ok {
			continue
		}
		seen[fileID] = struct{}{}
		if err := s.Touch(ctx, tenantID, fileID); err != nil {
			logutil.GetLogger(ctx).Warn("touch file",
				zap.String("tenant_id", tenantID),
				zap.String("file_id", fileID),
				zap.Error(err),
			)
		}
	}
}
