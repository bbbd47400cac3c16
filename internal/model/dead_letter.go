package model

type DeadLetter struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	FileID    string `json:"file_id"`
	EventJSON string `json:"event_json"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	Ctime     int64  `json:"ctime"`
	Mtime     int64  `json:"mtime"`
}
