package model

// ProjectStatus is what a polling client observes for a project.
type ProjectStatus string

const (
	ProjectStatusReady     ProjectStatus = "ready"
	ProjectStatusIngesting ProjectStatus = "ingesting"
	ProjectStatusFailed    ProjectStatus = "failed"
	ProjectStatusNoFiles   ProjectStatus = "no_files"
)

// IngestOutcome is the per-file result of EnsureIngested. Partial failure
// never raises; each file reports independently.
type IngestOutcome string

const (
	OutcomeAlreadyReady     IngestOutcome = "already_ready"
	OutcomeIngestionStarted IngestOutcome = "ingestion_started"
	OutcomeAlreadyInFlight  IngestOutcome = "already_in_flight"
	OutcomeFailed           IngestOutcome = "failed"
)

type FileIngestResult struct {
	FileID  string        `json:"file_id"`
	Outcome IngestOutcome `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
}

type StatusReport struct {
	Status ProjectStatus      `json:"status"`
	Files  []FileStatusReport `json:"files,omitempty"`
}

type FileStatusReport struct {
	FileID      string    `json:"file_id"`
	State       FileState `json:"state"`
	TTLDeadline int64     `json:"ttl_deadline,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
