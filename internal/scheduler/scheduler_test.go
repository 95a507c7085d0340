package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
)

type countingRunner struct {
	calls    atomic.Int32
	triggers chan monitor.Trigger
}

func (r *countingRunner) RunAll(_ context.Context, trigger monitor.Trigger) ([]monitor.Report, error) {
	r.calls.Add(1)
	select {
	case r.triggers <- trigger:
	default:
	}
	return []monitor.Report{{RunID: "r1", SpaceID: "T1"}}, nil
}

func newRunner() *countingRunner {
	return &countingRunner{triggers: make(chan monitor.Trigger, 4)}
}

func TestApply_InstallsAndRemoves(t *testing.T) {
	s := New(newRunner(), time.UTC, zerolog.Nop())

	s.Apply(models.Policy{AutoNotifyEnabled: true, AutoNotifySchedule: "0 20 * * *"})
	assert.Equal(t, "0 20 * * *", s.AutoSchedule())
	assert.Len(t, s.cron.Entries(), 1)

	s.Apply(models.Policy{AutoNotifyEnabled: true, AutoNotifySchedule: "30 9 * * 1-5"})
	assert.Equal(t, "30 9 * * 1-5", s.AutoSchedule())
	assert.Len(t, s.cron.Entries(), 1, "reschedule replaces the entry")

	s.Apply(models.Policy{AutoNotifyEnabled: false, AutoNotifySchedule: "30 9 * * 1-5"})
	assert.Empty(t, s.AutoSchedule())
	assert.Empty(t, s.cron.Entries())
	_, ok := s.NextRun()
	assert.False(t, ok)
}

func TestApply_InvalidScheduleIsIgnored(t *testing.T) {
	s := New(newRunner(), time.UTC, zerolog.Nop())
	s.Apply(models.Policy{AutoNotifyEnabled: true, AutoNotifySchedule: "whenever"})
	assert.Empty(t, s.AutoSchedule())
	assert.Empty(t, s.cron.Entries())
}

func TestNextRun_UsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	s := New(newRunner(), tokyo, zerolog.Nop())
	s.Apply(models.Policy{AutoNotifyEnabled: true, AutoNotifySchedule: "0 20 * * *"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, ok := s.NextRun()
		return ok
	}, time.Second, 10*time.Millisecond)
	next, _ := s.NextRun()
	assert.Equal(t, 20, next.In(tokyo).Hour())
	assert.Equal(t, 0, next.In(tokyo).Minute())
}

func TestScheduledRunFires(t *testing.T) {
	r := newRunner()
	s := New(r, time.UTC, zerolog.Nop())
	s.Apply(models.Policy{AutoNotifyEnabled: true, AutoNotifySchedule: "@every 1s"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	select {
	case trig := <-r.triggers:
		assert.Equal(t, monitor.TriggerScheduled, trig)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run did not fire")
	}
}

func TestKeepAlive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(newRunner(), time.UTC, zerolog.Nop())
	require.NoError(t, s.AddKeepAlive("@every 1s", srv.URL))
	require.NoError(t, s.AddKeepAlive("", srv.URL), "empty spec disables")
	assert.Error(t, s.AddKeepAlive("nope", srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return hits.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
