package threat

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/patterns"
	"github.com/vigilant-labs/vigil/pkg/telemetry"
)

// ActionHandler executes one response action for an event and returns a
// human-readable detail. Returning an error marks the action as not
// executed; remaining actions still run.
type ActionHandler func(ctx context.Context, ev *Event) (string, error)

// ReportRequest is one observed security event.
type ReportRequest struct {
	Type    EventType       `json:"type"`
	UserID  string          `json:"user_id,omitempty"`
	Network Network         `json:"network"`
	Request RequestSnapshot `json:"request,omitzero"`
	Flags   []string        `json:"flags,omitempty"`
}

// Validate checks the report against the wire contract.
func (r *ReportRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, r.Type)
	}
	if strings.TrimSpace(r.Network.IPAddress) == "" {
		return fmt.Errorf("%w: ip_address is required", ErrInvalidInput)
	}
	if _, err := netip.ParseAddr(r.Network.IPAddress); err != nil {
		return fmt.Errorf("%w: bad ip_address %q", ErrInvalidInput, r.Network.IPAddress)
	}
	return nil
}

// Engine evaluates incoming events: risk scoring, reputation lookup,
// payload signature scanning and rule-driven automatic response.
type Engine struct {
	events     EventStore
	rules      RuleStore
	reputation ReputationStore
	counters   CounterStore
	highRisk   map[string]bool
	handlers   map[ResponseAction]ActionHandler
	log        *zap.Logger
}

// NewEngine creates a threat engine. reputation and counters may be nil;
// the corresponding signals are then skipped.
func NewEngine(events EventStore, rules RuleStore, reputation ReputationStore, counters CounterStore, highRiskCountries []string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	highRisk := make(map[string]bool, len(highRiskCountries))
	for _, c := range highRiskCountries {
		highRisk[strings.ToUpper(c)] = true
	}
	return &Engine{
		events:     events,
		rules:      rules,
		reputation: reputation,
		counters:   counters,
		highRisk:   highRisk,
		handlers:   make(map[ResponseAction]ActionHandler),
		log:        log,
	}
}

// SetHandler installs a custom executor for an action. Actions without a
// handler get the built-in bookkeeping-only behavior.
func (e *Engine) SetHandler(action ResponseAction, h ActionHandler) {
	e.handlers[action] = h
}

// Report evaluates and persists one event, executing the automatic
// response of the highest-priority matching rule.
func (e *Engine) Report(ctx context.Context, req ReportRequest) (*Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ev := &Event{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Status:    StatusDetected,
		UserID:    req.UserID,
		Network:   req.Network,
		Request:   req.Request,
		Flags:     req.Flags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ev.Network.Country = strings.ToUpper(ev.Network.Country)

	reputationHit := e.checkReputation(ctx, ev)
	highRiskOrigin := e.highRisk[ev.Network.Country]
	e.scanPayload(ev)

	ev.RiskScore = RiskScore(ev.Type, reputationHit, highRiskOrigin)
	ev.Severity = SeverityForScore(ev.RiskScore)

	if err := e.events.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("persisting event: %w", err)
	}
	telemetry.EventsReported.WithLabelValues(string(ev.Severity)).Inc()

	if err := e.respond(ctx, ev); err != nil {
		e.log.Warn("automatic response incomplete", zap.String("event_id", ev.ID), zap.Error(err))
	}

	if len(ev.Responses) > 0 || ev.RuleID != "" {
		ev.UpdatedAt = time.Now().UTC()
		if err := e.events.UpdateEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("persisting event responses: %w", err)
		}
	}

	e.log.Info("event evaluated",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.Int("risk_score", ev.RiskScore),
		zap.String("severity", string(ev.Severity)),
		zap.String("ip", ev.Network.IPAddress))
	return ev, nil
}

// checkReputation resolves the source address against the reputation list.
func (e *Engine) checkReputation(ctx context.Context, ev *Event) bool {
	if e.reputation == nil {
		return false
	}
	addr, err := netip.ParseAddr(ev.Network.IPAddress)
	if err != nil {
		return false
	}
	entry, err := e.reputation.Lookup(ctx, addr)
	if err != nil {
		e.log.Warn("reputation lookup failed", zap.String("ip", ev.Network.IPAddress), zap.Error(err))
		return false
	}
	if entry == nil {
		return false
	}
	telemetry.ReputationHits.Inc()
	if err := e.reputation.RecordHit(ctx, entry.ID); err != nil {
		e.log.Warn("reputation hit not recorded", zap.String("entry_id", entry.ID), zap.Error(err))
	}
	return true
}

// scanPayload records which attack signatures the request matches.
func (e *Engine) scanPayload(ev *Event) {
	payload := ev.Request.Path
	if ev.Request.Body != "" {
		payload += "\n" + ev.Request.Body
	}
	if payload == "" {
		return
	}
	for _, p := range patterns.Get().MatchAll(payload, patterns.AttackCategories()...) {
		ev.Signatures = append(ev.Signatures, p.Name)
	}
}

// respond finds the highest-priority active rule for the event's category
// that matches, and executes all of its actions in order. Exactly one rule
// fires per event.
func (e *Engine) respond(ctx context.Context, ev *Event) error {
	rules, err := e.rules.ActiveRules(ctx, CategoryFor(ev.Type))
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	for _, r := range rules {
		if !r.Matches(ev) {
			continue
		}
		met, err := thresholdMet(ctx, e.counters, r, ev)
		if err != nil {
			e.log.Warn("threshold check failed", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		if !met {
			continue
		}

		blocked := e.execute(ctx, r, ev)
		ev.RuleID = r.ID

		if err := e.rules.RecordTrigger(ctx, r.ID, blocked); err != nil {
			e.log.Warn("rule stats not recorded", zap.String("rule_id", r.ID), zap.Error(err))
		}
		telemetry.RuleTriggers.WithLabelValues(r.Name).Inc()
		return nil
	}
	return nil
}

// execute runs every action of the rule, in order, recording each outcome.
func (e *Engine) execute(ctx context.Context, r *Rule, ev *Event) bool {
	blocked := false
	for _, action := range r.Actions {
		result := ActionResult{
			Action:     action,
			ExecutedAt: time.Now().UTC(),
		}

		if h, ok := e.handlers[action]; ok {
			detail, err := h(ctx, ev)
			result.Detail = detail
			if err != nil {
				result.Detail = err.Error()
				telemetry.ActionsExecuted.WithLabelValues(string(action), "error").Inc()
				ev.Responses = append(ev.Responses, result)
				continue
			}
			result.Executed = true
		} else {
			result.Executed = true
			result.Detail = fmt.Sprintf("rule %s", r.Name)
		}

		result.Blocked = action == ActionBlock
		if result.Blocked {
			blocked = true
		}
		telemetry.ActionsExecuted.WithLabelValues(string(action), "ok").Inc()
		ev.Responses = append(ev.Responses, result)
	}
	return blocked
}

// SetStatus moves an event through its investigation lifecycle.
func (e *Engine) SetStatus(ctx context.Context, id string, status EventStatus, inv Investigation) (*Event, error) {
	switch status {
	case StatusDetected, StatusInvestigating, StatusResolved, StatusFalsePositive, StatusIgnored:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	ev, err := e.events.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	ev.Status = status
	if inv.AssigneeID != "" {
		ev.Investigation.AssigneeID = inv.AssigneeID
	}
	if inv.Notes != "" {
		ev.Investigation.Notes = inv.Notes
	}
	if status == StatusResolved || status == StatusFalsePositive {
		now := time.Now().UTC()
		ev.Investigation.Resolution = inv.Resolution
		ev.Investigation.ResolvedAt = &now
		ev.Investigation.ResolvedBy = inv.ResolvedBy
	}
	ev.UpdatedAt = time.Now().UTC()

	if err := e.events.UpdateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("persisting event: %w", err)
	}
	return ev, nil
}
