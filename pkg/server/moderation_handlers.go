package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/vigilant-labs/vigil/pkg/moderation"
)

func listOptions(c fiber.Ctx) moderation.ListOptions {
	return moderation.ListOptions{
		Limit:  fiber.Query[int](c, "limit"),
		Offset: fiber.Query[int](c, "offset"),
	}
}

func (s *Server) handleCheck(c fiber.Ctx) error {
	var req moderation.CheckRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := s.ModEngine.Check(c.Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleListPendingCases(c fiber.Ctx) error {
	opts := listOptions(c)
	opts.ContentType = moderation.ContentType(c.Query("content_type"))
	opts.MinSeverity = moderation.Severity(c.Query("min_severity"))
	cases, total, err := s.Cases.ListPending(c.Context(), opts)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"cases": cases, "total": total})
}

func (s *Server) handleGetCase(c fiber.Ctx) error {
	result, err := s.Cases.GetCase(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleListAuthorCases(c fiber.Ctx) error {
	cases, total, err := s.Cases.ListByAuthor(c.Context(), c.Params("id"), listOptions(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"cases": cases, "total": total})
}

func (s *Server) handleReview(c fiber.Ctx) error {
	var req moderation.ReviewRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := s.Reviewer.Decide(c.Context(), c.Params("id"), req)
	if err != nil && !errors.Is(err, moderation.ErrEnforcementFailed) {
		return fail(c, err)
	}
	if err != nil {
		// The review stood but the penalty did not land; surface both.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"case":  result,
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

func (s *Server) handleAppealCase(c fiber.Ctx) error {
	var req moderation.AppealRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := s.Reviewer.SubmitAppeal(c.Context(), c.Params("id"), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleResolveAppeal(c fiber.Ctx) error {
	var dec moderation.AppealDecision
	if err := c.Bind().Body(&dec); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := s.Reviewer.ResolveAppeal(c.Context(), c.Params("id"), dec)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleRecompute(c fiber.Ctx) error {
	result, err := s.ModEngine.Recompute(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleListTerms(c fiber.Ctx) error {
	terms, err := s.Terms.ListTerms(c.Context(), c.Query("category"), fiber.Query[bool](c, "include_inactive"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"terms": terms})
}

func (s *Server) handleCreateTerm(c fiber.Ctx) error {
	var term moderation.Term
	if err := c.Bind().Body(&term); err != nil {
		return badRequest(c, "invalid request body")
	}
	if term.Pattern == "" {
		return badRequest(c, "pattern is required")
	}
	term.ID = ""
	if err := s.Terms.CreateTerm(c.Context(), &term); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(term)
}

func (s *Server) handleGetTerm(c fiber.Ctx) error {
	term, err := s.Terms.GetTerm(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(term)
}

func (s *Server) handleUpdateTerm(c fiber.Ctx) error {
	var term moderation.Term
	if err := c.Bind().Body(&term); err != nil {
		return badRequest(c, "invalid request body")
	}
	term.ID = c.Params("id")
	if term.Pattern == "" {
		return badRequest(c, "pattern is required")
	}
	if err := s.Terms.UpdateTerm(c.Context(), &term); err != nil {
		return fail(c, err)
	}
	return c.JSON(term)
}

func (s *Server) handleDeleteTerm(c fiber.Ctx) error {
	if err := s.Terms.DeleteTerm(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListViolations(c fiber.Ctx) error {
	violations, total, err := s.Violations.ListByUser(c.Context(), c.Params("id"), listOptions(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"violations": violations, "total": total})
}

func (s *Server) handleListAllViolations(c fiber.Ctx) error {
	violations, total, err := s.Violations.ListViolations(c.Context(), listOptions(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"violations": violations, "total": total})
}

func (s *Server) handleCreateViolation(c fiber.Ctx) error {
	var v moderation.Violation
	if err := c.Bind().Body(&v); err != nil {
		return badRequest(c, "invalid request body")
	}
	created, err := s.Enforcer.Create(c.Context(), &v)
	if err != nil && !errors.Is(err, moderation.ErrEnforcementFailed) {
		return fail(c, err)
	}
	if err != nil {
		// Persisted but the penalty did not land; the retry endpoint picks
		// it up.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"violation": created,
			"error":     err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) handleRetryEnforcement(c fiber.Ctx) error {
	if err := s.Enforcer.RetryEnforcement(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "enforced"})
}

func (s *Server) handleAppealViolation(c fiber.Ctx) error {
	var req moderation.AppealRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := s.Enforcer.AppealViolation(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleResolveViolationAppeal(c fiber.Ctx) error {
	var dec moderation.AppealDecision
	if err := c.Bind().Body(&dec); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := s.Enforcer.ResolveViolationAppeal(c.Context(), c.Params("id"), dec.ReviewerID, dec.Uphold, dec.Notes)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}
