package server

import (
	"net/netip"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/vigilant-labs/vigil/pkg/threat"
)

func (s *Server) handleReportEvent(c fiber.Ctx) error {
	var req threat.ReportRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ev, err := s.ThreatEngine.Report(c.Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ev)
}

func (s *Server) handleListEvents(c fiber.Ctx) error {
	filter := threat.EventFilter{
		Type:     threat.EventType(c.Query("type")),
		Severity: threat.Severity(c.Query("severity")),
		Status:   threat.EventStatus(c.Query("status")),
		UserID:   c.Query("user_id"),
		IP:       c.Query("ip"),
		Limit:    fiber.Query[int](c, "limit"),
		Offset:   fiber.Query[int](c, "offset"),
	}
	for q, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := c.Query(q); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return badRequest(c, q+" must be RFC 3339")
			}
			*dst = ts
		}
	}
	events, total, err := s.Events.ListEvents(c.Context(), filter)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"events": events, "total": total})
}

func (s *Server) handleGetEvent(c fiber.Ctx) error {
	ev, err := s.Events.GetEvent(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(ev)
}

func (s *Server) handleSetEventStatus(c fiber.Ctx) error {
	var req struct {
		Status        threat.EventStatus   `json:"status"`
		Investigation threat.Investigation `json:"investigation"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ev, err := s.ThreatEngine.SetStatus(c.Context(), c.Params("id"), req.Status, req.Investigation)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(ev)
}

func (s *Server) handleListRules(c fiber.Ctx) error {
	rules, err := s.Rules.ListRules(c.Context(), fiber.Query[bool](c, "include_inactive"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"rules": rules})
}

func (s *Server) handleCreateRule(c fiber.Ctx) error {
	var rule threat.Rule
	if err := c.Bind().Body(&rule); err != nil {
		return badRequest(c, "invalid request body")
	}
	rule.ID = ""
	if err := rule.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.Rules.CreateRule(c.Context(), &rule); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (s *Server) handleGetRule(c fiber.Ctx) error {
	rule, err := s.Rules.GetRule(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rule)
}

func (s *Server) handleUpdateRule(c fiber.Ctx) error {
	var rule threat.Rule
	if err := c.Bind().Body(&rule); err != nil {
		return badRequest(c, "invalid request body")
	}
	rule.ID = c.Params("id")
	if err := rule.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.Rules.UpdateRule(c.Context(), &rule); err != nil {
		return fail(c, err)
	}
	return c.JSON(rule)
}

func (s *Server) handleDeleteRule(c fiber.Ctx) error {
	if err := s.Rules.DeleteRule(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListReputation(c fiber.Ctx) error {
	entries, err := s.Reputation.ListEntries(c.Context(), fiber.Query[bool](c, "include_inactive"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (s *Server) handleCreateReputation(c fiber.Ctx) error {
	var entry threat.ReputationEntry
	if err := c.Bind().Body(&entry); err != nil {
		return badRequest(c, "invalid request body")
	}
	entry.ID = ""
	if err := s.Reputation.CreateEntry(c.Context(), &entry); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (s *Server) handleGetReputation(c fiber.Ctx) error {
	entry, err := s.Reputation.GetEntry(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(entry)
}

func (s *Server) handleUpdateReputation(c fiber.Ctx) error {
	var entry threat.ReputationEntry
	if err := c.Bind().Body(&entry); err != nil {
		return badRequest(c, "invalid request body")
	}
	entry.ID = c.Params("id")
	if err := s.Reputation.UpdateEntry(c.Context(), &entry); err != nil {
		return fail(c, err)
	}
	return c.JSON(entry)
}

func (s *Server) handleDeleteReputation(c fiber.Ctx) error {
	if err := s.Reputation.DeleteEntry(c.Context(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCheckReputation(c fiber.Ctx) error {
	addr, err := netip.ParseAddr(c.Params("ip"))
	if err != nil {
		return badRequest(c, "invalid ip address")
	}
	entry, err := s.Reputation.Lookup(c.Context(), addr)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"listed": entry != nil, "entry": entry})
}
