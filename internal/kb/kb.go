package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("knowledge base not configured")

type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

type JobStatus struct {
	State  JobState `json:"state"`
	Reason string   `json:"reason,omitempty"`
}

// DocumentRef points at a document in the object store. The knowledge
// base pulls content itself; this service never reads file bytes.
type DocumentRef struct {
	FileID    string            `json:"file_id"`
	SourceURI string            `json:"source_uri"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type IngestRequest struct {
	TenantID  string        `json:"tenant_id"`
	ProjectID string        `json:"project_id"`
	Documents []DocumentRef `json:"documents"`
}

type FileRef struct {
	TenantID string `json:"tenant_id"`
	FileID   string `json:"file_id"`
}

type RetrieveRequest struct {
	TenantID  string   `json:"tenant_id"`
	ProjectID string   `json:"project_id"`
	FileIDs   []string `json:"file_ids"`
	SessionID string   `json:"session_id,omitempty"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
}

type Citation struct {
	FileID  string `json:"file_id"`
	Content string `json:"content"`
}

type RetrieveResult struct {
	Answer    string     `json:"answer"`
	SessionID string     `json:"session_id,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Service is the external vector knowledge base. Ingestion is
// asynchronous: StartIngestion returns a job reference that must be
// polled. DeleteDocument treats an already-absent document as success.
type Service interface {
	Name() string
	StartIngestion(ctx context.Context, req IngestRequest) (string, error)
	GetJobStatus(ctx context.Context, jobRef string) (*JobStatus, error)
	DeleteDocument(ctx context.Context, ref FileRef) error
	Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error)
}

type ServiceFactory func(args interface{}) (Service, error)

var registry = map[string]ServiceFactory{}

func Register(name string, factory ServiceFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewService(name string, args interface{}) (Service, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("kb.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported kb provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("kb provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode kb provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode kb provider config: %w", err)
	}
	return nil
}
