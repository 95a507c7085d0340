package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/inactivity-agent/internal/health"
	"github.com/p-blackswan/inactivity-agent/internal/models"
)

const serviceName = "inactivity-agent"

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps      Deps
	logger    zerolog.Logger
	startTime time.Time
	now       func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		deps:      deps,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
		now:       time.Now,
	}
}

func (h *Handlers) uptime() string {
	return h.now().Sub(h.startTime).Round(time.Second).String()
}

// Status handles GET /.
func (h *Handlers) Status(c *fiber.Ctx) error {
	resp := StatusResponse{
		Service:     serviceName,
		Status:      "running",
		Uptime:      h.uptime(),
		LastReports: h.summaries(),
	}
	if h.deps.Policies != nil {
		resp.Policy = h.deps.Policies.Current()
	}
	if h.deps.Activity != nil {
		resp.TrackedMembers = h.deps.Activity.Members()
		resp.TrackedRecords = h.deps.Activity.Len()
	}
	if h.deps.Next != nil {
		if next, ok := h.deps.Next.NextRun(); ok {
			resp.NextCheck = &next
		}
	}
	return c.JSON(resp)
}

// Liveness handles GET /health.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /ready.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.deps.Checker == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	results := h.deps.Checker.RunAll(c.Context())
	if !health.Ready(results) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// Ping handles GET /ping.
func (h *Handlers) Ping(c *fiber.Ctx) error {
	return c.SendString("pong")
}

// KeepAlive handles GET /keep-alive, the target of the keep-alive pinger.
func (h *Handlers) KeepAlive(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "alive",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"uptime":    h.uptime(),
	})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	checks := map[string]health.Status{}
	if h.deps.Checker != nil {
		checks = h.deps.Checker.RunAll(c.Context())
	}
	overall := "ok"
	if !health.Ready(checks) {
		overall = "degraded"
	}
	return c.JSON(fiber.Map{
		"status": overall,
		"checks": checks,
		"uptime": h.uptime(),
	})
}

// Policy handles GET /api/v1/policy.
func (h *Handlers) Policy(c *fiber.Ctx) error {
	if h.deps.Policies == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"policy_unavailable", "Service Unavailable", "Policy store not configured")
	}
	return c.JSON(h.deps.Policies.Current())
}

// Reports handles GET /api/v1/reports.
func (h *Handlers) Reports(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"reports": h.summaries()})
}

// Audit handles GET /api/v1/audit?user=U123&limit=50.
func (h *Handlers) Audit(c *fiber.Ctx) error {
	if h.deps.Audit == nil {
		return c.JSON(AuditListResponse{Entries: []models.AuditEntry{}})
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_limit", "Bad Request", "limit must be between 1 and 500")
	}
	return c.JSON(AuditListResponse{
		Entries: h.deps.Audit.Entries(c.Query("user"), limit),
		Total:   h.deps.Audit.Count(),
	})
}

func (h *Handlers) summaries() []ReportSummary {
	out := []ReportSummary{}
	if h.deps.Reports == nil {
		return out
	}
	for _, r := range h.deps.Reports.LastReports() {
		out = append(out, summarize(r))
	}
	return out
}
