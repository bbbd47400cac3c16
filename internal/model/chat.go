package model

type ChatMessage struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	TenantID  string       `json:"tenant_id"`
	UserID    string       `json:"user_id"`
	ProjectID string       `json:"project_id"`
	Type      string       `json:"type"` // user, ai, system, error
	Content   string       `json:"content"`
	Sources   []ChatSource `json:"sources,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// ChatSource is a citation attached to an AI answer. Every cited file gets
// its TTL refreshed on a successful query.
type ChatSource struct {
	FileID  string `json:"file_id"`
	Content string `json:"content"`
}
