package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/inactivity-agent/internal/audit"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
	"github.com/p-blackswan/inactivity-agent/internal/persist"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
)

type fakeAuth struct {
	admins map[string]bool
	err    error
}

func (f fakeAuth) IsAdmin(_ context.Context, _, userID string) (bool, error) {
	return f.admins[userID], f.err
}

type fakeActivity struct {
	records int
	resets  int
}

func (f *fakeActivity) ResetAll(context.Context) { f.resets++; f.records = 0 }
func (f *fakeActivity) Len() int                 { return f.records }
func (f *fakeActivity) Members() int             { return f.records }

type fakeRunner struct {
	reqs   []monitor.Request
	report monitor.Report
	err    error
}

func (f *fakeRunner) Run(_ context.Context, req monitor.Request) (monitor.Report, error) {
	f.reqs = append(f.reqs, req)
	return f.report, f.err
}

func (f *fakeRunner) LastReport(string) (monitor.Report, bool) {
	if len(f.reqs) == 0 {
		return monitor.Report{}, false
	}
	return f.report, true
}

type commandCounter struct{ calls []string }

func (c *commandCounter) RecordCommand(command, status string) {
	c.calls = append(c.calls, command+":"+status)
}

type fixture struct {
	exec     *Executor
	policies *policy.Store
	activity *fakeActivity
	runner   *fakeRunner
	audit    *audit.Log
	counter  *commandCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := persist.NewFileBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	f := &fixture{
		policies: policy.NewStore(b, policy.Defaults(), policy.DefaultLimits(), zerolog.Nop()),
		activity: &fakeActivity{records: 4},
		runner:   &fakeRunner{},
		audit:    audit.New(50, zerolog.Nop()),
		counter:  &commandCounter{},
	}
	f.policies.Load(context.Background())
	f.exec = NewExecutor(Deps{
		Policies: f.policies,
		Activity: f.activity,
		Runner:   f.runner,
		Auth:     fakeAuth{admins: map[string]bool{"UADMIN": true}},
		Audit:    f.audit,
		Recorder: f.counter,
	}, "/inactivity", time.UTC, zerolog.Nop())
	return f
}

func (f *fixture) run(user, text string) Reply {
	return f.exec.Execute(context.Background(), Invocation{SpaceID: "T1", UserID: user, ChannelID: "C1", Text: text})
}

func TestExecute_HelpNeedsNoAdmin(t *testing.T) {
	f := newFixture(t)
	r := f.run("UNOBODY", "help")
	assert.Contains(t, r.Text, "/inactivity check")
	assert.Equal(t, []string{"help:ok"}, f.counter.calls)
}

func TestExecute_NonAdminDenied(t *testing.T) {
	f := newFixture(t)
	r := f.run("UNOBODY", "config threshold=9")
	assert.True(t, strings.HasPrefix(r.Text, "❌"))
	assert.Equal(t, 3, f.policies.Current().InactivityThresholdDays)

	entries := f.audit.Entries("UNOBODY", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "denied", entries[0].Result)
	assert.Equal(t, []string{"config:denied"}, f.counter.calls)
}

func TestExecute_AuthErrorIsReported(t *testing.T) {
	f := newFixture(t)
	f.exec.auth = fakeAuth{err: errors.New("slack down")}
	r := f.run("UADMIN", "status")
	assert.Contains(t, r.Text, "Could not verify")
}

func TestExecute_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	r := f.run("UADMIN", "dance")
	assert.Contains(t, r.Text, `unknown command "dance"`)
	assert.Contains(t, r.Text, "*Usage*")
}

func TestExecute_Config(t *testing.T) {
	f := newFixture(t)
	r := f.run("UADMIN", `config threshold=7 channel=<#C0REPORT|reports> schedule="0 9 * * 1-5"`)
	require.True(t, strings.HasPrefix(r.Text, "✅"), r.Text)
	assert.Contains(t, r.Text, "threshold: 3 -> 7 days")

	p := f.policies.Current()
	assert.Equal(t, 7, p.InactivityThresholdDays)
	assert.Equal(t, models.ChannelTarget("C0REPORT"), p.DeliveryTarget)
	assert.Equal(t, "0 9 * * 1-5", p.AutoNotifySchedule)

	entries := f.audit.Entries("UADMIN", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "config", entries[0].Action)
}

func TestExecute_ConfigClampsAndDM(t *testing.T) {
	f := newFixture(t)
	f.run("UADMIN", "config channel=C0REPORT")
	r := f.run("UADMIN", "config threshold=400 channel=dm")
	require.True(t, strings.HasPrefix(r.Text, "✅"), r.Text)

	p := f.policies.Current()
	assert.Equal(t, policy.DefaultLimits().MaxThresholdDays, p.InactivityThresholdDays)
	assert.Equal(t, models.DirectTarget(), p.DeliveryTarget)
}

func TestExecute_ConfigRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{
		"config",
		"config threshold=soon",
		"config colour=blue",
		"config channel=general",
		`config threshold=5 schedule="every day"`,
	} {
		r := f.run("UADMIN", text)
		assert.True(t, strings.HasPrefix(r.Text, "❌"), "%s: %s", text, r.Text)
	}
	assert.Equal(t, 3, f.policies.Current().InactivityThresholdDays, "rejected updates must not apply")
	assert.Contains(t, f.counter.calls, "config:invalid")
}

func TestExecute_ConfigNoChange(t *testing.T) {
	f := newFixture(t)
	r := f.run("UADMIN", "config threshold=3")
	assert.Contains(t, r.Text, "Nothing changed")
	assert.Empty(t, f.audit.Entries("", 0))
}

func TestExecute_Monitor(t *testing.T) {
	f := newFixture(t)
	r := f.run("UADMIN", "monitor")
	assert.Contains(t, r.Text, "reactions: on")

	r = f.run("UADMIN", "monitor reactions=off voice=off")
	require.True(t, strings.HasPrefix(r.Text, "✅"), r.Text)
	m := f.policies.Current().Monitoring
	assert.True(t, m.Messages)
	assert.False(t, m.Reactions)
	assert.False(t, m.Presence)

	r = f.run("UADMIN", "monitor typing=on")
	assert.True(t, strings.HasPrefix(r.Text, "❌"))
}

func TestExecute_Exclude(t *testing.T) {
	f := newFixture(t)

	r := f.run("UADMIN", "exclude add <@U0BOB|bob>")
	assert.Contains(t, r.Text, "is now excluded")
	r = f.run("UADMIN", "exclude add U0BOB")
	assert.Contains(t, r.Text, "already excluded")
	r = f.run("UADMIN", "exclude add role <!subteam^S0MODS|mods>")
	assert.Contains(t, r.Text, "is now excluded")

	p := f.policies.Current()
	assert.Equal(t, []string{"U0BOB"}, p.ExcludedMemberIDs)
	assert.Equal(t, []string{"S0MODS"}, p.ExcludedRoleIDs)

	r = f.run("UADMIN", "exclude list")
	assert.Contains(t, r.Text, "<@U0BOB>")
	assert.Contains(t, r.Text, "<!subteam^S0MODS>")

	r = f.run("UADMIN", "exclude remove user U0BOB")
	assert.Contains(t, r.Text, "no longer excluded")
	r = f.run("UADMIN", "exclude remove U0BOB")
	assert.Contains(t, r.Text, "was not excluded")
	assert.Empty(t, f.policies.Current().ExcludedMemberIDs)

	r = f.run("UADMIN", "exclude add user S0MODS")
	assert.True(t, strings.HasPrefix(r.Text, "❌"))
	r = f.run("UADMIN", "exclude kick U0BOB")
	assert.True(t, strings.HasPrefix(r.Text, "❌"))
}

func TestExecute_Check(t *testing.T) {
	f := newFixture(t)
	f.runner.report = monitor.Report{
		RosterSize:  10,
		Inactive:    make([]models.InactiveEntry, 3),
		Batches:     1,
		Delivered:   1,
		Destination: "dm:UADMIN",
	}
	r := f.run("UADMIN", "check")
	require.Len(t, f.runner.reqs, 1)
	assert.Equal(t, monitor.Request{SpaceID: "T1", RequesterID: "UADMIN", Trigger: monitor.TriggerCommand}, f.runner.reqs[0])
	assert.Contains(t, r.Text, "3 inactive of 10")
	assert.Contains(t, r.Text, "<@UADMIN> by DM")
}

func TestExecute_CheckFailures(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("roster unavailable")
	r := f.run("UADMIN", "check")
	assert.Contains(t, r.Text, "roster unavailable")
	assert.Equal(t, []string{"check:error"}, f.counter.calls)

	f.runner.err = nil
	f.runner.report = monitor.Report{Inactive: make([]models.InactiveEntry, 2), Batches: 1, Failed: 1}
	r = f.run("UADMIN", "check")
	assert.Contains(t, r.Text, "delivery failed")
}

func TestExecute_ResetNeedsConfirm(t *testing.T) {
	f := newFixture(t)
	r := f.run("UADMIN", "reset")
	assert.Contains(t, r.Text, "reset confirm")
	assert.Equal(t, 0, f.activity.resets)

	r = f.run("UADMIN", "reset-data confirm")
	assert.Contains(t, r.Text, "4 records cleared")
	assert.Equal(t, 1, f.activity.resets)
}

func TestExecute_Status(t *testing.T) {
	f := newFixture(t)
	r := f.run("UADMIN", "status")
	assert.Contains(t, r.Text, "Threshold: 3 days")
	assert.Contains(t, r.Text, "Delivery: direct message")
	assert.Contains(t, r.Text, "none since start")
	assert.NotEmpty(t, r.Blocks)
}
