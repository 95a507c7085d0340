// Package mgmt serves the read-only status, probe and metrics endpoints.
package mgmt

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/inactivity-agent/internal/health"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
	"github.com/p-blackswan/inactivity-agent/internal/requestid"
)

// PolicyView exposes the current policy. *policy.Store satisfies it.
type PolicyView interface {
	Current() models.Policy
}

// ActivityStats exposes tracking counters. *activity.Store satisfies it.
type ActivityStats interface {
	Len() int
	Members() int
}

// ReportSource exposes the latest run reports. *monitor.Monitor satisfies it.
type ReportSource interface {
	LastReports() []monitor.Report
}

// AuditSource exposes operator actions. *audit.Log satisfies it.
type AuditSource interface {
	Entries(userID string, limit int) []models.AuditEntry
	Count() int
}

// NextRunSource reports the next automatic check. *scheduler.Scheduler
// satisfies it.
type NextRunSource interface {
	NextRun() (time.Time, bool)
}

// Deps are the read-only views the server reports on. Nil members are
// omitted from responses.
type Deps struct {
	Checker  *health.Checker
	Policies PolicyView
	Activity ActivityStats
	Reports  ReportSource
	Audit    AuditSource
	Next     NextRunSource
	Metrics  http.Handler
}

// ServerConfig holds configuration for the status server.
type ServerConfig struct {
	ListenAddr string
	AuthConfig AuthConfig
}

// Server is the status Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new status server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:      app,
		handlers: NewHandlers(deps, logger),
		logger:   logger.With().Str("component", "mgmt_server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(s.handlers, deps.Metrics)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	s.app.Use(func(c *fiber.Ctx) error {
		if probePaths[c.Path()] {
			return c.Next()
		}
		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("status api request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, metricsHandler http.Handler) {
	s.app.Get("/", h.Status)
	s.app.Get("/health", h.Liveness)
	s.app.Get("/ready", h.Readiness)
	s.app.Get("/ping", h.Ping)
	s.app.Get("/keep-alive", h.KeepAlive)

	if metricsHandler != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/policy", h.Policy)
	v1.Get("/reports", h.Reports)
	v1.Get("/audit", h.Audit)
	v1.Get("/health", h.HealthDetail)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8000"
	}
	s.logger.Info().Str("addr", addr).Msg("status server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("status server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		title := "Internal Server Error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			title = e.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
		}

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     "request_failed",
			Title:    title,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
