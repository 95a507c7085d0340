// Package monitor runs the inactivity pipeline: roster fetch, evaluation,
// batching and delivery.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/inactivity-agent/internal/activity"
	"github.com/p-blackswan/inactivity-agent/internal/dispatch"
	"github.com/p-blackswan/inactivity-agent/internal/inactivity"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/notify"
	"github.com/p-blackswan/inactivity-agent/internal/requestid"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerCommand   Trigger = "command"
	TriggerScheduled Trigger = "scheduled"
)

// Roster is the membership collaborator.
type Roster interface {
	FetchRoster(ctx context.Context, spaceID string) ([]models.Member, error)
	Spaces(ctx context.Context) ([]string, error)
	Owner(ctx context.Context, spaceID string) (string, error)
}

// PolicySource returns the policy in effect.
type PolicySource interface {
	Current() models.Policy
}

// ActivitySource provides a consistent copy of the activity table.
type ActivitySource interface {
	Snapshot() activity.Snapshot
}

// Deliverer sends batches and one-off messages. *dispatch.Dispatcher
// satisfies it.
type Deliverer interface {
	Send(ctx context.Context, batches []models.NotificationBatch, target models.DeliveryTarget, fallbackUserID string, rc notify.RenderContext) []dispatch.Outcome
	Post(ctx context.Context, channelID string, msg notify.Message) error
}

// Recorder receives run metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordEvaluation(trigger, result string, seconds float64)
	SetInactive(space string, count int)
	SetTrackedRecords(n int)
}

// Request asks for one evaluation of a workspace.
type Request struct {
	SpaceID     string
	RequesterID string // empty for scheduled runs
	Trigger     Trigger
}

// Report summarizes a run.
type Report struct {
	RunID       string                 `json:"run_id"`
	SpaceID     string                 `json:"space_id"`
	Trigger     Trigger                `json:"trigger"`
	StartedAt   time.Time              `json:"started_at"`
	Duration    time.Duration          `json:"duration"`
	RosterSize  int                    `json:"roster_size"`
	Inactive    []models.InactiveEntry `json:"inactive"`
	Batches     int                    `json:"batches"`
	Delivered   int                    `json:"delivered"`
	Failed      int                    `json:"failed"`
	Destination string                 `json:"destination,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Options tune presentation.
type Options struct {
	Location *time.Location
}

// Monitor runs evaluations one at a time.
type Monitor struct {
	roster   Roster
	policies PolicySource
	activity ActivitySource
	delivery Deliverer
	recorder Recorder
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time

	mu sync.Mutex // serializes runs

	lastMu sync.RWMutex
	last   map[string]Report
}

// New creates a Monitor.
func New(roster Roster, policies PolicySource, act ActivitySource, delivery Deliverer, opts Options, logger zerolog.Logger) *Monitor {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Monitor{
		roster:   roster,
		policies: policies,
		activity: act,
		delivery: delivery,
		loc:      loc,
		logger:   logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
		last:     make(map[string]Report),
	}
}

// SetRecorder wires a metrics recorder.
func (m *Monitor) SetRecorder(r Recorder) { m.recorder = r }

// Run evaluates one workspace and delivers the result. A roster failure
// aborts the run and is returned; delivery failures are reported per batch
// in the Report.
func (m *Monitor) Run(ctx context.Context, req Request) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, runID := requestid.New(ctx)
	log := requestid.Logger(ctx, m.logger).With().
		Str("space", req.SpaceID).
		Str("trigger", string(req.Trigger)).
		Logger()

	start := m.now()
	report := Report{RunID: runID, SpaceID: req.SpaceID, Trigger: req.Trigger, StartedAt: start}
	policy := m.policies.Current()

	roster, err := m.roster.FetchRoster(ctx, req.SpaceID)
	if err != nil {
		err = fmt.Errorf("fetching roster for %s: %w", req.SpaceID, err)
		log.Error().Err(err).Msg("evaluation aborted")
		report.Error = err.Error()
		report.Duration = m.now().Sub(start)
		m.finish(report, "roster_error")
		m.postLog(ctx, policy, notify.LevelError, fmt.Sprintf("Inactivity check aborted: %v", err))
		return report, err
	}
	report.RosterSize = len(roster)

	snap := m.activity.Snapshot()
	inactive := inactivity.Evaluate(roster, snap, policy, req.SpaceID, start)
	report.Inactive = inactive

	batches := notify.Batch(notify.SortByInactivity(inactive), policy.BatchSize)
	report.Batches = len(batches)

	fallback := m.fallbackUser(ctx, req, log)
	rc := notify.RenderContext{
		ThresholdDays: policy.InactivityThresholdDays,
		Now:           start,
		Location:      m.loc,
		Trigger:       string(req.Trigger),
	}
	outcomes := m.delivery.Send(ctx, batches, policy.DeliveryTarget, fallback, rc)
	for _, o := range outcomes {
		if o.OK() {
			report.Delivered++
		} else {
			report.Failed++
		}
		if report.Destination == "" && o.Destination.ChannelID != "" {
			report.Destination = o.Destination.String()
		}
	}
	report.Duration = m.now().Sub(start)

	result := "ok"
	if report.Failed > 0 {
		result = "partial"
		if report.Delivered == 0 {
			result = "failed"
		}
	}
	m.finish(report, result)

	log.Info().
		Int("roster", report.RosterSize).
		Int("inactive", len(inactive)).
		Int("batches", report.Batches).
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Dur("took", report.Duration).
		Msg("evaluation finished")

	level := notify.LevelInfo
	if report.Failed > 0 {
		level = notify.LevelWarn
	}
	m.postLog(ctx, policy, level, fmt.Sprintf(
		"Inactivity check (%s): %d of %d members inactive, %d/%d batches delivered.",
		req.Trigger, len(inactive), report.RosterSize, report.Delivered, report.Batches))

	return report, nil
}

// RunAll evaluates every workspace the bot belongs to. Failures of single
// workspaces are joined into the returned error.
func (m *Monitor) RunAll(ctx context.Context, trigger Trigger) ([]Report, error) {
	spaces, err := m.roster.Spaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	reports := make([]Report, 0, len(spaces))
	var errs []error
	for _, space := range spaces {
		r, err := m.Run(ctx, Request{SpaceID: space, Trigger: trigger})
		reports = append(reports, r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// LastReport returns the most recent report for spaceID.
func (m *Monitor) LastReport(spaceID string) (Report, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	r, ok := m.last[spaceID]
	return r, ok
}

// LastReports returns the most recent report of every workspace.
func (m *Monitor) LastReports() []Report {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	out := make([]Report, 0, len(m.last))
	for _, r := range m.last {
		out = append(out, r)
	}
	return out
}

// fallbackUser is the requester for on-demand runs and the workspace owner
// for scheduled ones. Both paths then share the same target resolution.
func (m *Monitor) fallbackUser(ctx context.Context, req Request, log zerolog.Logger) string {
	if req.RequesterID != "" {
		return req.RequesterID
	}
	owner, err := m.roster.Owner(ctx, req.SpaceID)
	if err != nil {
		log.Warn().Err(err).Msg("could not resolve workspace owner for fallback delivery")
		return ""
	}
	return owner
}

func (m *Monitor) finish(r Report, result string) {
	m.lastMu.Lock()
	m.last[r.SpaceID] = r
	m.lastMu.Unlock()

	if m.recorder == nil {
		return
	}
	m.recorder.RecordEvaluation(string(r.Trigger), result, r.Duration.Seconds())
	if r.Error == "" {
		m.recorder.SetInactive(r.SpaceID, len(r.Inactive))
	}
	m.recorder.SetTrackedRecords(m.activity.Snapshot().Len())
}

// postLog mirrors a run summary to the policy's log channel, if any.
func (m *Monitor) postLog(ctx context.Context, policy models.Policy, level notify.LogLevel, text string) {
	if policy.LogChannelID == "" {
		return
	}
	msg := notify.RenderLog(level, text, m.now(), m.loc)
	if err := m.delivery.Post(ctx, policy.LogChannelID, msg); err != nil {
		m.logger.Warn().Err(err).Str("channel", policy.LogChannelID).Msg("failed to post to log channel")
	}
}
