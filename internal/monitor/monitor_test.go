package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/inactivity-agent/internal/activity"
	"github.com/p-blackswan/inactivity-agent/internal/dispatch"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/notify"
)

var now = time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)

type fakeRoster struct {
	members  map[string][]models.Member
	owners   map[string]string
	fetchErr error
	ownerErr error
}

func (f *fakeRoster) FetchRoster(_ context.Context, spaceID string) ([]models.Member, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.members[spaceID], nil
}

func (f *fakeRoster) Spaces(context.Context) ([]string, error) {
	out := make([]string, 0, len(f.members))
	for id := range f.members {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeRoster) Owner(_ context.Context, spaceID string) (string, error) {
	if f.ownerErr != nil {
		return "", f.ownerErr
	}
	return f.owners[spaceID], nil
}

type fakePolicy struct{ p models.Policy }

func (f fakePolicy) Current() models.Policy { return f.p }

type fakeActivity struct{ snap activity.Snapshot }

func (f fakeActivity) Snapshot() activity.Snapshot { return f.snap }

type sendCall struct {
	batches  []models.NotificationBatch
	target   models.DeliveryTarget
	fallback string
	rc       notify.RenderContext
}

type fakeDeliverer struct {
	mu      sync.Mutex
	sends   []sendCall
	posts   []string
	failIdx map[int]bool
}

func (f *fakeDeliverer) Send(_ context.Context, batches []models.NotificationBatch, target models.DeliveryTarget, fallback string, rc notify.RenderContext) []dispatch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{batches, target, fallback, rc})
	out := make([]dispatch.Outcome, 0, len(batches))
	for _, b := range batches {
		o := dispatch.Outcome{Index: b.Index, Destination: dispatch.Destination{ChannelID: "C1"}}
		if f.failIdx[b.Index] {
			o.Err = errors.New("boom")
		}
		out = append(out, o)
	}
	return out
}

func (f *fakeDeliverer) Post(_ context.Context, channelID string, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, channelID+": "+msg.Text)
	return nil
}

type fakeRecorder struct {
	results  []string
	inactive map[string]int
}

func (r *fakeRecorder) RecordEvaluation(_, result string, _ float64) {
	r.results = append(r.results, result)
}

func (r *fakeRecorder) SetInactive(space string, n int) {
	if r.inactive == nil {
		r.inactive = map[string]int{}
	}
	r.inactive[space] = n
}

func (r *fakeRecorder) SetTrackedRecords(int) {}

func newMonitor(roster *fakeRoster, policy models.Policy, snap activity.Snapshot, d *fakeDeliverer) *Monitor {
	m := New(roster, fakePolicy{policy}, fakeActivity{snap}, d, Options{}, zerolog.Nop())
	m.now = func() time.Time { return now }
	return m
}

func basePolicy() models.Policy {
	return models.Policy{
		InactivityThresholdDays: 3,
		BatchSize:               20,
		DeliveryTarget:          models.ChannelTarget("C1"),
	}
}

func TestRun_Scenario(t *testing.T) {
	roster := &fakeRoster{members: map[string][]models.Member{
		"T1": {{ID: "A"}, {ID: "B"}, {ID: "C"}, {ID: "D"}, {ID: "bot", Automated: true}},
	}}
	snap := activity.NewSnapshot(map[string]map[string]models.ActivityRecord{
		"A": {"T1": {LastActivityAt: now.Add(-5 * 24 * time.Hour), Kind: models.KindMessage}},
		"B": {"T1": {LastActivityAt: now.Add(-24 * time.Hour), Kind: models.KindReaction}},
	})
	policy := basePolicy()
	policy.ExcludedMemberIDs = []string{"D"}
	d := &fakeDeliverer{}
	rec := &fakeRecorder{}
	m := newMonitor(roster, policy, snap, d)
	m.SetRecorder(rec)

	report, err := m.Run(context.Background(), Request{SpaceID: "T1", RequesterID: "U-req", Trigger: TriggerCommand})
	require.NoError(t, err)

	require.Len(t, report.Inactive, 2)
	assert.Equal(t, "A", report.Inactive[0].MemberID)
	assert.Equal(t, "C", report.Inactive[1].MemberID)
	assert.Equal(t, 5, report.RosterSize)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, report.Delivered)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, d.sends, 1)
	call := d.sends[0]
	assert.Equal(t, "U-req", call.fallback)
	assert.Equal(t, models.ChannelTarget("C1"), call.target)
	// presentation order puts never-recorded first
	assert.Equal(t, "C", call.batches[0].Entries[0].MemberID)
	assert.Equal(t, 3, call.rc.ThresholdDays)

	assert.Equal(t, []string{"ok"}, rec.results)
	assert.Equal(t, 2, rec.inactive["T1"])

	last, ok := m.LastReport("T1")
	require.True(t, ok)
	assert.Equal(t, report.RunID, last.RunID)
}

func TestRun_ScheduledUsesOwnerFallback(t *testing.T) {
	roster := &fakeRoster{
		members: map[string][]models.Member{"T1": {{ID: "A"}}},
		owners:  map[string]string{"T1": "U-owner"},
	}
	d := &fakeDeliverer{}
	m := newMonitor(roster, basePolicy(), activity.NewSnapshot(nil), d)

	_, err := m.Run(context.Background(), Request{SpaceID: "T1", Trigger: TriggerScheduled})
	require.NoError(t, err)
	require.Len(t, d.sends, 1)
	assert.Equal(t, "U-owner", d.sends[0].fallback)
	assert.Equal(t, models.ChannelTarget("C1"), d.sends[0].target, "scheduled runs honor the configured target")
}

func TestRun_OwnerLookupFailureStillDelivers(t *testing.T) {
	roster := &fakeRoster{
		members:  map[string][]models.Member{"T1": {{ID: "A"}}},
		ownerErr: errors.New("users.list failed"),
	}
	d := &fakeDeliverer{}
	m := newMonitor(roster, basePolicy(), activity.NewSnapshot(nil), d)

	_, err := m.Run(context.Background(), Request{SpaceID: "T1", Trigger: TriggerScheduled})
	require.NoError(t, err)
	require.Len(t, d.sends, 1)
	assert.Empty(t, d.sends[0].fallback)
}

func TestRun_RosterFailureAborts(t *testing.T) {
	roster := &fakeRoster{fetchErr: errors.New("ratelimited")}
	policy := basePolicy()
	policy.LogChannelID = "C-log"
	d := &fakeDeliverer{}
	rec := &fakeRecorder{}
	m := newMonitor(roster, policy, activity.NewSnapshot(nil), d)
	m.SetRecorder(rec)

	report, err := m.Run(context.Background(), Request{SpaceID: "T1", Trigger: TriggerCommand})
	require.Error(t, err)
	assert.Contains(t, report.Error, "ratelimited")
	assert.Empty(t, d.sends)
	require.Len(t, d.posts, 1)
	assert.Contains(t, d.posts[0], "C-log: ")
	assert.Contains(t, d.posts[0], "aborted")
	assert.Equal(t, []string{"roster_error"}, rec.results)
}

func TestRun_EmptyRosterStillNotifies(t *testing.T) {
	roster := &fakeRoster{members: map[string][]models.Member{"T1": nil}}
	d := &fakeDeliverer{}
	m := newMonitor(roster, basePolicy(), activity.NewSnapshot(nil), d)

	report, err := m.Run(context.Background(), Request{SpaceID: "T1", RequesterID: "U1", Trigger: TriggerCommand})
	require.NoError(t, err)
	assert.Empty(t, report.Inactive)
	require.Len(t, d.sends, 1)
	require.Len(t, d.sends[0].batches, 1)
	assert.True(t, d.sends[0].batches[0].IsEmpty())
}

func TestRun_PartialDelivery(t *testing.T) {
	members := make([]models.Member, 45)
	for i := range members {
		members[i] = models.Member{ID: string(rune('a' + i%26)) + string(rune('A'+i/26))}
	}
	roster := &fakeRoster{members: map[string][]models.Member{"T1": members}}
	policy := basePolicy()
	policy.LogChannelID = "C-log"
	d := &fakeDeliverer{failIdx: map[int]bool{2: true}}
	rec := &fakeRecorder{}
	m := newMonitor(roster, policy, activity.NewSnapshot(nil), d)
	m.SetRecorder(rec)

	report, err := m.Run(context.Background(), Request{SpaceID: "T1", RequesterID: "U1", Trigger: TriggerCommand})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"partial"}, rec.results)
	require.Len(t, d.posts, 1)
	assert.Contains(t, d.posts[0], "45 of 45 members inactive, 2/3 batches delivered")
}

func TestRunAll(t *testing.T) {
	roster := &fakeRoster{
		members: map[string][]models.Member{"T1": {{ID: "A"}}, "T2": {{ID: "B"}}},
		owners:  map[string]string{"T1": "O1", "T2": "O2"},
	}
	d := &fakeDeliverer{}
	m := newMonitor(roster, basePolicy(), activity.NewSnapshot(nil), d)

	reports, err := m.RunAll(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Len(t, d.sends, 2)
	assert.Len(t, m.LastReports(), 2)
}
