package mgmt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/inactivity-agent/internal/audit"
	"github.com/p-blackswan/inactivity-agent/internal/health"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
)

type staticPolicy struct{ p models.Policy }

func (s staticPolicy) Current() models.Policy { return s.p }

type staticActivity struct{ members, records int }

func (s staticActivity) Len() int     { return s.records }
func (s staticActivity) Members() int { return s.members }

type staticReports []monitor.Report

func (s staticReports) LastReports() []monitor.Report { return s }

type staticNext struct{ at time.Time }

func (s staticNext) NextRun() (time.Time, bool) { return s.at, true }

// testApp creates a Fiber app with all routes for testing.
func testApp(t *testing.T, authMode, apiKey string, checks map[string]health.Status) (*Server, *audit.Log) {
	t.Helper()
	logger := zerolog.Nop()
	checker := health.NewChecker(logger)
	for name, status := range checks {
		st := status
		checker.Register(name, func(context.Context) health.Status { return st })
	}
	log := audit.New(10, logger)
	lastSeen := time.Date(2024, 4, 22, 9, 0, 0, 0, time.UTC)

	srv := NewServer(ServerConfig{
		ListenAddr: ":0",
		AuthConfig: AuthConfig{Mode: authMode, APIKey: apiKey},
	}, Deps{
		Checker:  checker,
		Policies: staticPolicy{p: policy.Defaults()},
		Activity: staticActivity{members: 3, records: 5},
		Reports: staticReports{{
			RunID:     "run-1",
			SpaceID:   "T1",
			Trigger:   monitor.TriggerScheduled,
			Inactive: []models.InactiveEntry{
				{MemberID: "U1", DaysSince: models.NeverDays},
				{MemberID: "U2", LastActivityAt: &lastSeen, DaysSince: 9},
			},
			Batches:   1,
			Delivered: 1,
		}},
		Audit:   log,
		Next:    staticNext{at: time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)},
		Metrics: promhttp.Handler(),
	}, logger)
	return srv, log
}

func get(t *testing.T, srv *Server, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServer_Status(t *testing.T) {
	srv, _ := testApp(t, "none", "", nil)
	resp, body := get(t, srv, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var status StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "inactivity-agent", status.Service)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, policy.DefaultThresholdDays, status.Policy.InactivityThresholdDays)
	assert.Equal(t, 3, status.TrackedMembers)
	require.NotNil(t, status.NextCheck)
	require.Len(t, status.LastReports, 1)
	assert.Equal(t, 2, status.LastReports[0].Inactive)
	assert.Equal(t, "scheduled", status.LastReports[0].Trigger)
}

func TestServer_Probes(t *testing.T) {
	srv, _ := testApp(t, "api-key", "secret", nil)

	for _, path := range []string{"/", "/health", "/ready", "/ping", "/keep-alive", "/metrics"} {
		resp, _ := get(t, srv, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}

	_, body := get(t, srv, "/ping", "")
	assert.Equal(t, "pong", string(body))

	_, body = get(t, srv, "/keep-alive", "")
	assert.Contains(t, string(body), `"status":"alive"`)
}

func TestServer_ReadinessDown(t *testing.T) {
	srv, _ := testApp(t, "none", "", map[string]health.Status{"storage": health.StatusOK, "slack": health.StatusDown})
	resp, body := get(t, srv, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "not_ready")

	resp, body = get(t, srv, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"degraded"`)
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := testApp(t, "none", "", nil)
	resp, body := get(t, srv, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_PolicyAndReports(t *testing.T) {
	srv, _ := testApp(t, "none", "", nil)

	resp, body := get(t, srv, "/api/v1/policy", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p models.Policy
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, policy.Defaults(), p)

	resp, body = get(t, srv, "/api/v1/reports", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reports struct {
		Reports []ReportSummary `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(body, &reports))
	require.Len(t, reports.Reports, 1)
	assert.Equal(t, "run-1", reports.Reports[0].RunID)
	assert.Equal(t, 2, reports.Reports[0].Inactive)
	assert.Equal(t, 1, reports.Reports[0].NeverSeen)
	assert.NotContains(t, string(body), "9223372036854775807")
}

func TestServer_Audit(t *testing.T) {
	srv, log := testApp(t, "none", "", nil)
	log.Record(models.AuditEntry{UserID: "U1", Action: "config", Result: "ok"})
	log.Record(models.AuditEntry{UserID: "U2", Action: "exclude", Result: "added"})

	resp, body := get(t, srv, "/api/v1/audit?user=U2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list AuditListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "exclude", list.Entries[0].Action)
	assert.Equal(t, 2, list.Total)

	resp, body = get(t, srv, "/api/v1/audit?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "invalid_limit", problem.Type)
}

func TestServer_NotFound(t *testing.T) {
	srv, _ := testApp(t, "none", "", nil)
	resp, body := get(t, srv, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, http.StatusNotFound, problem.Status)
}
