package kb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

type RetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"-"`
	MaxInterval     time.Duration `json:"-"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether the error looks like a throttling or
// transient failure from the external service.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if appErr.IsThrottled(err) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "throttl", "429", "500", "502", "503", "504", "unavailable", "timeout", "connection reset", "temporary"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// WrapRetry adds bounded exponential backoff on throttling and transient
// failures to every call of the wrapped service. Non-retryable errors
// pass through untouched.
func WrapRetry(next Service, cfg RetryConfig) Service {
	if next == nil {
		return nil
	}
	if cfg.MaxRetries <= 0 {
		cfg = DefaultRetryConfig()
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	return &retryService{next: next, cfg: cfg}
}

type retryService struct {
	next Service
	cfg  RetryConfig
}

func (s *retryService) Name() string {
	return s.next.Name()
}

func (s *retryService) StartIngestion(ctx context.Context, req IngestRequest) (string, error) {
	var jobRef string
	err := s.execute(ctx, "start_ingestion", func() error {
		var err error
		jobRef, err = s.next.StartIngestion(ctx, req)
		return err
	})
	return jobRef, err
}

func (s *retryService) GetJobStatus(ctx context.Context, jobRef string) (*JobStatus, error) {
	var status *JobStatus
	err := s.execute(ctx, "get_job_status", func() error {
		var err error
		status, err = s.next.GetJobStatus(ctx, jobRef)
		return err
	})
	return status, err
}

func (s *retryService) DeleteDocument(ctx context.Context, ref FileRef) error {
	return s.execute(ctx, "delete_document", func() error {
		return s.next.DeleteDocument(ctx, ref)
	})
}

func (s *retryService) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	var result *RetrieveResult
	err := s.execute(ctx, "retrieve", func() error {
		var err error
		result, err = s.next.Retrieve(ctx, req)
		return err
	})
	return result, err
}

func (s *retryService) execute(ctx context.Context, op string, call func() error) error {
	var lastErr error
	delay := s.cfg.InitialInterval
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !retryableError(lastErr) {
			return lastErr
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		logutil.GetLogger(ctx).Debug("retrying kb call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay *= 2
			if delay > s.cfg.MaxInterval {
				delay = s.cfg.MaxInterval
			}
		}
	}
	return fmt.Errorf("kb %s after %d retries: %w", op, s.cfg.MaxRetries, lastErr)
}
