package models

import (
	"encoding/json"
	"time"
)

// Member is one entry of a roster snapshot.
type Member struct {
	ID          string
	DisplayName string
	RoleIDs     []string
	Automated   bool
	IsOwner     bool
}

// InactiveEntry is a member classified as inactive by an evaluation.
// Never-seen members carry DaysSince == NeverDays in memory; on the wire
// they are "never": true without days_since.
type InactiveEntry struct {
	MemberID       string
	DisplayName    string
	LastActivityAt *time.Time
	Kind           ActivityKind
	DaysSince      int
}

type inactiveEntryJSON struct {
	MemberID       string       `json:"member_id"`
	DisplayName    string       `json:"display_name"`
	LastActivityAt *time.Time   `json:"last_activity_at,omitempty"`
	Kind           ActivityKind `json:"activity_kind,omitempty"`
	DaysSince      *int         `json:"days_since,omitempty"`
	Never          bool         `json:"never,omitempty"`
}

// Never reports whether the member has no recorded activity.
func (e InactiveEntry) Never() bool {
	return e.LastActivityAt == nil
}

func (e InactiveEntry) MarshalJSON() ([]byte, error) {
	w := inactiveEntryJSON{
		MemberID:       e.MemberID,
		DisplayName:    e.DisplayName,
		LastActivityAt: e.LastActivityAt,
		Kind:           e.Kind,
		Never:          e.Never(),
	}
	if !w.Never {
		days := e.DaysSince
		w.DaysSince = &days
	}
	return json.Marshal(w)
}

func (e *InactiveEntry) UnmarshalJSON(b []byte) error {
	var w inactiveEntryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = InactiveEntry{
		MemberID:       w.MemberID,
		DisplayName:    w.DisplayName,
		LastActivityAt: w.LastActivityAt,
		Kind:           w.Kind,
	}
	switch {
	case w.LastActivityAt == nil:
		e.DaysSince = NeverDays
	case w.DaysSince != nil:
		e.DaysSince = *w.DaysSince
	}
	return nil
}

// NotificationBatch is a bounded slice of an inactive list prepared for a
// single delivery call.
type NotificationBatch struct {
	Entries      []InactiveEntry
	Index        int // 1-based
	Total        int
	TotalEntries int
}

// IsEmpty reports whether this is the "no inactive members" summary batch.
func (b NotificationBatch) IsEmpty() bool {
	return len(b.Entries) == 0
}
