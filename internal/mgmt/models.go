package mgmt

import (
	"time"

	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Service        string          `json:"service"`
	Status         string          `json:"status"`
	Uptime         string          `json:"uptime"`
	Policy         models.Policy   `json:"policy"`
	TrackedMembers int             `json:"tracked_members"`
	TrackedRecords int             `json:"tracked_records"`
	NextCheck      *time.Time      `json:"next_check,omitempty"`
	LastReports    []ReportSummary `json:"last_reports"`
}

// ReportSummary is a run report without the inactive list.
type ReportSummary struct {
	RunID       string    `json:"run_id"`
	SpaceID     string    `json:"space_id"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	RosterSize  int       `json:"roster_size"`
	Inactive    int       `json:"inactive"`
	NeverSeen   int       `json:"never_seen"`
	Batches     int       `json:"batches"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
	Destination string    `json:"destination,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func summarize(r monitor.Report) ReportSummary {
	never := 0
	for _, e := range r.Inactive {
		if e.Never() {
			never++
		}
	}
	return ReportSummary{
		RunID:       r.RunID,
		SpaceID:     r.SpaceID,
		Trigger:     string(r.Trigger),
		StartedAt:   r.StartedAt,
		DurationMS:  r.Duration.Milliseconds(),
		RosterSize:  r.RosterSize,
		Inactive:    len(r.Inactive),
		NeverSeen:   never,
		Batches:     r.Batches,
		Delivered:   r.Delivered,
		Failed:      r.Failed,
		Destination: r.Destination,
		Error:       r.Error,
	}
}

// AuditListResponse is the body of GET /api/v1/audit.
type AuditListResponse struct {
	Entries []models.AuditEntry `json:"entries"`
	Total   int                 `json:"total"`
}

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
