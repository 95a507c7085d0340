package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/inactivity-agent/internal/activity"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/persist"
)

func executeCLI(t *testing.T, dataDir string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--data-dir", dataDir, "--driver", "file", "--defaults", ""}, args...))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func showPolicy(t *testing.T, dir string) models.Policy {
	t.Helper()
	out, _, err := executeCLI(t, dir, "policy", "show")
	require.NoError(t, err)
	var p models.Policy
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	return p
}

func TestPolicyShowDefaults(t *testing.T) {
	p := showPolicy(t, t.TempDir())
	assert.Equal(t, 3, p.InactivityThresholdDays)
	assert.Equal(t, 20, p.BatchSize)
	assert.False(t, p.DeliveryTarget.IsChannel())
}

func TestPolicySet(t *testing.T) {
	dir := t.TempDir()

	out, _, err := executeCLI(t, dir, "policy", "set", "--threshold", "7", "--channel", "C0123ABC", "--reactions", "off")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	p := showPolicy(t, dir)
	assert.Equal(t, 7, p.InactivityThresholdDays)
	assert.Equal(t, models.ChannelTarget("C0123ABC"), p.DeliveryTarget)
	assert.False(t, p.Monitoring.Reactions)
	assert.True(t, p.Monitoring.Messages)

	_, err = os.Stat(filepath.Join(dir, "policy.json"))
	assert.NoError(t, err)
}

func TestPolicySetRepeatedIsNoop(t *testing.T) {
	dir := t.TempDir()
	_, _, err := executeCLI(t, dir, "policy", "set", "--threshold", "5")
	require.NoError(t, err)

	out, _, err := executeCLI(t, dir, "policy", "set", "--threshold", "5")
	require.NoError(t, err)
	assert.Equal(t, "no changes\n", out)
}

func TestPolicySetRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no flags", []string{"policy", "set"}},
		{"bad channel", []string{"policy", "set", "--channel", "general"}},
		{"bad bool", []string{"policy", "set", "--messages", "maybe"}},
		{"bad schedule", []string{"policy", "set", "--schedule", "every day"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCLI(t, t.TempDir(), tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestPolicyExclude(t *testing.T) {
	dir := t.TempDir()

	out, _, err := executeCLI(t, dir, "policy", "exclude", "add", "user", "U123")
	require.NoError(t, err)
	assert.Equal(t, "user U123: added\n", out)

	out, _, err = executeCLI(t, dir, "policy", "exclude", "add", "user", "U123")
	require.NoError(t, err)
	assert.Equal(t, "user U123: already excluded\n", out)

	_, _, err = executeCLI(t, dir, "policy", "exclude", "add", "role", "S42")
	require.NoError(t, err)

	p := showPolicy(t, dir)
	assert.Equal(t, []string{"U123"}, p.ExcludedMemberIDs)
	assert.Equal(t, []string{"S42"}, p.ExcludedRoleIDs)

	out, _, err = executeCLI(t, dir, "policy", "exclude", "remove", "user", "U123")
	require.NoError(t, err)
	assert.Equal(t, "user U123: removed\n", out)

	_, _, err = executeCLI(t, dir, "policy", "exclude", "drop", "user", "U123")
	assert.Error(t, err)
}

func TestPolicyReset(t *testing.T) {
	dir := t.TempDir()
	_, _, err := executeCLI(t, dir, "policy", "set", "--threshold", "9")
	require.NoError(t, err)

	_, _, err = executeCLI(t, dir, "policy", "reset")
	assert.Error(t, err)

	_, _, err = executeCLI(t, dir, "policy", "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, 3, showPolicy(t, dir).InactivityThresholdDays)
}

func seedActivity(t *testing.T, dir string) {
	t.Helper()
	b, err := persist.NewFileBackend(dir, zerolog.Nop())
	require.NoError(t, err)
	s := activity.NewStore(b, zerolog.Nop())
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Record(ctx, "U1", "T1", models.KindMessage, now.Add(-10*24*time.Hour)))
	require.NoError(t, s.Record(ctx, "U2", "T1", models.KindReaction, now.Add(-time.Hour)))
}

func TestActivityShow(t *testing.T) {
	dir := t.TempDir()
	seedActivity(t, dir)

	out, _, err := executeCLI(t, dir, "activity", "show", "--json")
	require.NoError(t, err)
	var rows []activityRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "U1", rows[0].MemberID)
	assert.Equal(t, 10, rows[0].DaysInactive)
	assert.Equal(t, "U2", rows[1].MemberID)

	out, _, err = executeCLI(t, dir, "activity", "show", "--json", "--min-days", "3")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "U1", rows[0].MemberID)

	out, _, err = executeCLI(t, dir, "activity", "show", "--member", "U2")
	require.NoError(t, err)
	assert.Contains(t, out, "U2")
	assert.NotContains(t, out, "U1")
}

func TestActivityReset(t *testing.T) {
	dir := t.TempDir()
	seedActivity(t, dir)

	_, _, err := executeCLI(t, dir, "activity", "reset")
	assert.Error(t, err)

	out, _, err := executeCLI(t, dir, "activity", "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "cleared 2 records\n", out)

	out, _, err = executeCLI(t, dir, "activity", "show")
	require.NoError(t, err)
	assert.Equal(t, "no activity recorded\n", out)
}

func TestStorageFlagsDefaultFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("STORAGE_DRIVER", "file")
	t.Setenv("POLICY_DEFAULTS_FILE", "")

	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"policy", "set", "--threshold", "6"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "policy.json"))
	require.NoError(t, err, "the policy is written under DATA_DIR")
	assert.Equal(t, 6, showPolicy(t, dir).InactivityThresholdDays)
}
