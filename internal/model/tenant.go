package model

// Tenant is an isolation boundary. Tenants are fixed per deployment and
// loaded from config; they are never created or destroyed at runtime.
type Tenant struct {
	ID                string `json:"id"`
	FilesTTLHours     int    `json:"files_ttl_hours"`
	MaxFiles          int    `json:"max_files"`
	MaxQueryPerMinute int    `json:"max_query_per_minute"`
	MaxIngestRetries  int    `json:"max_ingest_retries"`
	IngestTimeoutMins int    `json:"ingest_timeout_minutes"`
}

type Project struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Ctime    int64  `json:"ctime"`
	Mtime    int64  `json:"mtime"`
}

// ProjectFile is an uploaded file belonging to a project. Raw bytes live
// in the object store; only identity and location are recorded here.
type ProjectFile struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Bucket    string `json:"bucket"`
	S3Key     string `json:"s3_key"`
	Size      int64  `json:"size"`
	Ctime     int64  `json:"ctime"`
}
