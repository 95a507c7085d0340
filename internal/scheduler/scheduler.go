// Package scheduler runs the automatic inactivity checks and the keep-alive
// ping on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
)

// Runner evaluates every workspace. *monitor.Monitor satisfies it.
type Runner interface {
	RunAll(ctx context.Context, trigger monitor.Trigger) ([]monitor.Report, error)
}

// Scheduler owns one cron instance in the notification timezone.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	client *http.Client
	logger zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	autoID   cron.EntryID
	autoSpec string
	keepID   cron.EntryID
}

// New creates a Scheduler whose schedules are interpreted in loc.
func New(runner Runner, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start begins firing jobs. Jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info().Str("tz", s.cron.Location().String()).Int("entries", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts the cron and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stop timed out with a job still running")
	}
}

// Apply installs, replaces or removes the automatic check to match p. It
// is meant to be registered as a policy listener.
func (s *Scheduler) Apply(p models.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := ""
	if p.AutoNotifyEnabled {
		want = p.AutoNotifySchedule
	}
	if want == s.autoSpec {
		return
	}

	if s.autoID != 0 {
		s.cron.Remove(s.autoID)
		s.autoID = 0
		s.autoSpec = ""
	}
	if want == "" {
		s.logger.Info().Msg("automatic check disabled")
		return
	}
	if err := policy.ValidateSchedule(want); err != nil {
		s.logger.Error().Err(err).Msg("automatic check not scheduled")
		return
	}

	id, err := s.cron.AddFunc(want, s.runScheduled)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule", want).Msg("automatic check not scheduled")
		return
	}
	s.autoID = id
	s.autoSpec = want
	s.logger.Info().Str("schedule", want).Time("next", s.cron.Entry(id).Next).Msg("automatic check scheduled")
}

// AutoSchedule returns the active automatic check schedule, empty when
// disabled.
func (s *Scheduler) AutoSchedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoSpec
}

// NextRun returns the next firing time of the automatic check.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	id := s.autoID
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}, false
	}
	next := s.cron.Entry(id).Next
	return next, !next.IsZero()
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runScheduled() {
	ctx := s.jobContext()
	reports, err := s.runner.RunAll(ctx, monitor.TriggerScheduled)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled check failed")
		return
	}
	for _, r := range reports {
		s.logger.Info().Str("run_id", r.RunID).Str("space", r.SpaceID).Int("inactive", len(r.Inactive)).Msg("scheduled check finished")
	}
}

// AddKeepAlive pings url on spec. Hosting platforms that idle unused
// services use this to keep the socket connection alive.
func (s *Scheduler) AddKeepAlive(spec, url string) error {
	if spec == "" || url == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("keep-alive schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepID != 0 {
		s.cron.Remove(s.keepID)
	}
	id, err := s.cron.AddFunc(spec, func() { s.ping(url) })
	if err != nil {
		return fmt.Errorf("keep-alive schedule %q: %w", spec, err)
	}
	s.keepID = id
	s.logger.Info().Str("schedule", spec).Str("url", url).Msg("keep-alive scheduled")
	return nil
}

func (s *Scheduler) ping(url string) {
	req, err := http.NewRequestWithContext(s.jobContext(), http.MethodGet, url, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("keep-alive request invalid")
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("keep-alive ping failed")
		return
	}
	resp.Body.Close()
	s.logger.Debug().Int("status", resp.StatusCode).Msg("keep-alive ping")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
