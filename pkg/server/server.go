// Package server exposes the moderation and threat engines over HTTP.
package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/moderation"
	"github.com/vigilant-labs/vigil/pkg/threat"
)

// Version is stamped at build time.
var Version = "dev"

// Options carries everything the server needs. ModEngine, Reviewer and
// ThreatEngine are required; the stores back the management endpoints.
type Options struct {
	ModEngine    *moderation.Engine
	Reviewer     *moderation.Reviewer
	Enforcer     *moderation.Enforcer
	Cases        moderation.CaseStore
	Terms        moderation.TermStore
	Violations   moderation.ViolationStore
	ThreatEngine *threat.Engine
	Events       threat.EventStore
	Rules        threat.RuleStore
	Reputation   threat.ReputationStore
	Log          *zap.Logger
}

// Server is the HTTP front of the risk engines.
type Server struct {
	app *fiber.App
	log *zap.Logger
	Options
}

// New builds the fiber app and registers all routes.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	s := &Server{
		app:     fiber.New(fiber.Config{AppName: "Vigil"}),
		log:     opts.Log,
		Options: opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	mod := s.app.Group("/v1/moderation")
	mod.Post("/check", s.handleCheck)
	mod.Get("/cases", s.handleListPendingCases)
	mod.Get("/cases/:id", s.handleGetCase)
	mod.Post("/cases/:id/review", s.handleReview)
	mod.Post("/cases/:id/appeal", s.handleAppealCase)
	mod.Post("/cases/:id/appeal/resolve", s.handleResolveAppeal)
	mod.Post("/cases/:id/recompute", s.handleRecompute)
	mod.Get("/authors/:id/cases", s.handleListAuthorCases)

	mod.Get("/terms", s.handleListTerms)
	mod.Post("/terms", s.handleCreateTerm)
	mod.Get("/terms/:id", s.handleGetTerm)
	mod.Put("/terms/:id", s.handleUpdateTerm)
	mod.Delete("/terms/:id", s.handleDeleteTerm)

	mod.Get("/users/:id/violations", s.handleListViolations)
	mod.Get("/violations", s.handleListAllViolations)
	mod.Post("/violations", s.handleCreateViolation)
	mod.Post("/violations/:id/retry", s.handleRetryEnforcement)
	mod.Post("/violations/:id/appeal", s.handleAppealViolation)
	mod.Post("/violations/:id/appeal/resolve", s.handleResolveViolationAppeal)

	sec := s.app.Group("/v1/security")
	sec.Post("/events", s.handleReportEvent)
	sec.Get("/events", s.handleListEvents)
	sec.Get("/events/:id", s.handleGetEvent)
	sec.Post("/events/:id/status", s.handleSetEventStatus)

	sec.Get("/rules", s.handleListRules)
	sec.Post("/rules", s.handleCreateRule)
	sec.Get("/rules/:id", s.handleGetRule)
	sec.Put("/rules/:id", s.handleUpdateRule)
	sec.Delete("/rules/:id", s.handleDeleteRule)

	sec.Get("/reputation/check/:ip", s.handleCheckReputation)
	sec.Get("/reputation", s.handleListReputation)
	sec.Post("/reputation", s.handleCreateReputation)
	sec.Get("/reputation/:id", s.handleGetReputation)
	sec.Put("/reputation/:id", s.handleUpdateReputation)
	sec.Delete("/reputation/:id", s.handleDeleteReputation)
}

// Listen blocks serving on addr until the listener fails or Shutdown runs.
func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// fail maps domain errors onto HTTP statuses.
func fail(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, moderation.ErrInvalidInput), errors.Is(err, threat.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, moderation.ErrNotFound), errors.Is(err, threat.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, moderation.ErrAlreadyReviewed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, moderation.ErrEnforcementFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
