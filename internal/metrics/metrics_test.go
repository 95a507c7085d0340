package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordActivity("message")
	m.RecordActivity("message")
	m.RecordBatch("sent")
	m.RecordPersistError("policy")
	m.RecordEvaluation("scheduled", "ok", 0.2)
	m.SetInactive("T1", 7)
	m.RecordCommand("check", "ok")
	m.SetTrackedRecords(3)

	body := scrape(t, m)
	assert.Contains(t, body, `inactivity_activity_recorded_total{kind="message"} 2`)
	assert.Contains(t, body, `inactivity_batches_total{result="sent"} 1`)
	assert.Contains(t, body, `inactivity_persist_errors_total{store="policy"} 1`)
	assert.Contains(t, body, `inactivity_evaluations_total{result="ok",trigger="scheduled"} 1`)
	assert.Contains(t, body, `inactivity_inactive_members{space="T1"} 7`)
	assert.Contains(t, body, `inactivity_commands_total{command="check",status="ok"} 1`)
	assert.Contains(t, body, `inactivity_tracked_records 3`)
}

func TestHandler_UsesPrivateRegistry(t *testing.T) {
	body := scrape(t, New())
	assert.NotContains(t, body, "go_goroutines")
}
