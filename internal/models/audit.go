package models

import "time"

// AuditEntry records an operator action for audit purposes.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	SpaceID   string    `json:"space_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
}
