package model

// FileState is the ingestion state of a tracked file. Transitions go
// through conditional writes keyed on the expected prior state, see
// repo.TrackedFileRepo.
type FileState string

const (
	FileStateNotIngested FileState = "not_ingested"
	FileStateIngesting   FileState = "ingesting"
	FileStateReady       FileState = "ready"
	FileStateFailed      FileState = "failed"
)

func (s FileState) Valid() bool {
	switch s {
	case FileStateNotIngested, FileStateIngesting, FileStateReady, FileStateFailed:
		return true
	}
	return false
}

// TrackedFile is the per-document ingestion record. It is uniquely
// identified by (tenant_id, file_id) and is the single source of truth
// for ingestion state; no component caches it beyond one request.
type TrackedFile struct {
	TenantID        string    `json:"tenant_id"`
	FileID          string    `json:"file_id"`
	ProjectID       string    `json:"project_id"`
	State           FileState `json:"state"`
	TTLDeadline     int64     `json:"ttl_deadline,omitempty"` // unix seconds, zero unless ready
	IngestionJobRef string    `json:"ingestion_job_ref,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Retries         int       `json:"retries"`
	Ctime           int64     `json:"ctime"`
	Mtime           int64     `json:"mtime"`
}
