package stream

import (
	"github.com/xxxsen/jitkb/internal/model"
)

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventModify EventKind = "modify"
	EventRemove EventKind = "remove"
)

// RemovalCause tags every remove event so consumers can tell a TTL expiry
// apart from a user-driven delete without sniffing event metadata.
type RemovalCause string

const (
	CauseNone       RemovalCause = ""
	CauseTTLExpiry  RemovalCause = "ttl_expiry"
	CauseUserDelete RemovalCause = "user_delete"
)

// Event is one change on the tracking store. Delivery is at-least-once
// and unordered across keys; consumers must tolerate duplicates and
// events arriving after fresh writes to the same key.
type Event struct {
	Seq      uint64             `json:"seq"`
	Kind     EventKind          `json:"kind"`
	Cause    RemovalCause       `json:"cause,omitempty"`
	TenantID string             `json:"tenant_id"`
	FileID   string             `json:"file_id"`
	OldImage *model.TrackedFile `json:"old_image,omitempty"`
	Attempts int                `json:"attempts"`
	// Redrives counts how many times this event has already been pulled
	// back out of the dead-letter table. It survives re-consignment so
	// the re-drive cap holds across cycles; Attempts resets per delivery.
	Redrives int `json:"redrives,omitempty"`
}
