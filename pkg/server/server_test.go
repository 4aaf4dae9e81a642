package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/moderation"
	"github.com/vigilant-labs/vigil/pkg/store"
	"github.com/vigilant-labs/vigil/pkg/threat"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	terms := store.NewMemoryTermStore()
	cases := store.NewMemoryCaseStore()
	violations := store.NewMemoryViolationStore()
	accounts := store.NewMemoryAccountStore()

	seed := []moderation.Term{
		{Pattern: "badword", Category: moderation.TermCategorySpam,
			Severity: moderation.SeverityMedium, Action: moderation.TermFilter, Active: true},
		{Pattern: "atrocity", Category: moderation.TermCategoryViolence,
			Severity: moderation.SeverityHigh, Action: moderation.TermReview, Active: true},
	}
	for i := range seed {
		if err := terms.CreateTerm(t.Context(), &seed[i]); err != nil {
			t.Fatalf("seeding term: %v", err)
		}
	}

	matcher := moderation.NewTermMatcher(terms, zap.NewNop())
	pipeline := moderation.NewPipeline(time.Second, zap.NewNop())
	pipeline.Register(matcher)
	pipeline.Register(moderation.NewPersonalInfoDetector())

	engine := moderation.NewEngine(cases, pipeline, zap.NewNop())
	engine.AddRedactor(matcher)
	enforcer := moderation.NewEnforcer(violations, accounts, zap.NewNop())
	reviewer := moderation.NewReviewer(cases, enforcer, zap.NewNop())

	events := store.NewMemoryEventStore()
	rules := store.NewMemoryRuleStore()
	reputation := store.NewMemoryReputationStore()
	counters := store.NewMemoryCounterStore()
	threatEngine := threat.NewEngine(events, rules, reputation, counters, []string{"KP"}, zap.NewNop())

	return New(Options{
		ModEngine:    engine,
		Reviewer:     reviewer,
		Enforcer:     enforcer,
		Cases:        cases,
		Terms:        terms,
		Violations:   violations,
		ThreatEngine: threatEngine,
		Events:       events,
		Rules:        rules,
		Reputation:   reputation,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, out any) int {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	if code := doJSON(t, s, http.MethodGet, "/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestCheckEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("filtered term", func(t *testing.T) {
		var c moderation.Case
		code := doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
			"author_id":    "alice",
			"content_type": "message",
			"content":      "this has a badword in it",
		}, &c)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if c.Status != moderation.StatusFiltered {
			t.Errorf("status = %q, want filtered", c.Status)
		}
		if c.ProcessedContent != "this has a *** in it" {
			t.Errorf("processed = %q", c.ProcessedContent)
		}
	})

	t.Run("clean content approved", func(t *testing.T) {
		var c moderation.Case
		code := doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
			"author_id": "alice",
			"content":   "a perfectly pleasant sentence",
		}, &c)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if c.Status != moderation.StatusApproved {
			t.Errorf("status = %q, want approved", c.Status)
		}
	})

	t.Run("missing author", func(t *testing.T) {
		code := doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
			"content": "hello",
		}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("unknown content type", func(t *testing.T) {
		code := doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
			"author_id":    "alice",
			"content_type": "carrier_pigeon",
			"content":      "hello",
		}, nil)
		if code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})
}

func TestCaseLifecycle(t *testing.T) {
	s := newTestServer(t)

	var c moderation.Case
	code := doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
		"author_id": "bob",
		"content":   "describing an atrocity here",
	}, &c)
	if code != http.StatusOK {
		t.Fatalf("check status = %d, want 200", code)
	}
	if c.Status != moderation.StatusPendingReview {
		t.Fatalf("status = %q, want pending_review", c.Status)
	}

	var pending struct {
		Cases []moderation.Case `json:"cases"`
		Total int               `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/cases", nil, &pending); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if pending.Total != 1 || len(pending.Cases) != 1 {
		t.Fatalf("pending = %d cases total %d, want 1/1", len(pending.Cases), pending.Total)
	}

	var got moderation.Case
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/cases/"+c.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", code)
	}
	if got.ID != c.ID {
		t.Errorf("got case %s, want %s", got.ID, c.ID)
	}

	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/cases/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", code)
	}

	review := map[string]any{"reviewer_id": "mod-1", "decision": "approve"}
	var reviewed moderation.Case
	if code := doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/review", review, &reviewed); code != http.StatusOK {
		t.Fatalf("review status = %d, want 200", code)
	}
	if reviewed.Status != moderation.StatusApproved {
		t.Errorf("reviewed status = %q, want approved", reviewed.Status)
	}

	// A second decision conflicts.
	if code := doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/review", review, nil); code != http.StatusConflict {
		t.Errorf("second review status = %d, want 409", code)
	}

	var byAuthor struct {
		Total int `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/authors/bob/cases", nil, &byAuthor); code != http.StatusOK {
		t.Fatalf("author list status = %d, want 200", code)
	}
	if byAuthor.Total != 1 {
		t.Errorf("author total = %d, want 1", byAuthor.Total)
	}
}

func TestReviewRejectCreatesViolation(t *testing.T) {
	s := newTestServer(t)

	var c moderation.Case
	doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
		"author_id": "mallory",
		"content":   "an atrocity",
	}, &c)

	code := doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/review", map[string]any{
		"reviewer_id": "mod-1",
		"decision":    "reject",
		"notes":       "graphic violence",
		"violation": map[string]any{
			"type":     "inappropriate_content",
			"severity": "severe",
			"penalty":  "temporary_suspension",
			"duration_hours": 24,
		},
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("review status = %d, want 200", code)
	}

	var violations struct {
		Total int `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/users/mallory/violations", nil, &violations); code != http.StatusOK {
		t.Fatalf("violations status = %d, want 200", code)
	}
	if violations.Total != 1 {
		t.Errorf("violations total = %d, want 1", violations.Total)
	}
}

func TestTermCRUDEndpoints(t *testing.T) {
	s := newTestServer(t)

	var created moderation.Term
	code := doJSON(t, s, http.MethodPost, "/v1/moderation/terms", map[string]any{
		"pattern":  "newterm",
		"category": "spam",
		"severity": "low",
		"action":   "warn",
		"active":   true,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}
	if created.ID == "" {
		t.Fatal("created term has no ID")
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/moderation/terms", map[string]any{"category": "spam"}, nil); code != http.StatusBadRequest {
		t.Errorf("create without pattern status = %d, want 400", code)
	}

	created.Severity = moderation.SeverityHigh
	if code := doJSON(t, s, http.MethodPut, "/v1/moderation/terms/"+created.ID, created, nil); code != http.StatusOK {
		t.Errorf("update status = %d, want 200", code)
	}

	var got moderation.Term
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/terms/"+created.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", code)
	}
	if got.Severity != moderation.SeverityHigh {
		t.Errorf("severity = %q, want high", got.Severity)
	}

	if code := doJSON(t, s, http.MethodDelete, "/v1/moderation/terms/"+created.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", code)
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/terms/"+created.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", code)
	}
}

func TestSecurityEventEndpoints(t *testing.T) {
	s := newTestServer(t)

	var ev threat.Event
	code := doJSON(t, s, http.MethodPost, "/v1/security/events", map[string]any{
		"type":    "brute_force",
		"user_id": "u1",
		"network": map[string]any{"ip_address": "203.0.113.7", "country": "us"},
	}, &ev)
	if code != http.StatusCreated {
		t.Fatalf("report status = %d, want 201", code)
	}
	if ev.RiskScore != 80 {
		t.Errorf("risk score = %d, want 80", ev.RiskScore)
	}
	if ev.Severity != threat.SeverityCritical {
		t.Errorf("severity = %q, want critical", ev.Severity)
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/security/events", map[string]any{
		"type":    "alien_invasion",
		"network": map[string]any{"ip_address": "203.0.113.7"},
	}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", code)
	}
	if code := doJSON(t, s, http.MethodPost, "/v1/security/events", map[string]any{
		"type":    "login_failure",
		"network": map[string]any{"ip_address": "not-an-ip"},
	}, nil); code != http.StatusBadRequest {
		t.Errorf("bad ip status = %d, want 400", code)
	}

	var list struct {
		Total int `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/security/events?severity=critical", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if list.Total != 1 {
		t.Errorf("total = %d, want 1", list.Total)
	}

	var updated threat.Event
	code = doJSON(t, s, http.MethodPost, "/v1/security/events/"+ev.ID+"/status", map[string]any{
		"status": "resolved",
		"investigation": map[string]any{
			"assignee_id": "analyst-1",
			"notes":       "credential stuffing from a single source",
		},
	}, &updated)
	if code != http.StatusOK {
		t.Fatalf("set status = %d, want 200", code)
	}
	if updated.Status != threat.StatusResolved {
		t.Errorf("status = %q, want resolved", updated.Status)
	}
	if updated.Investigation.ResolvedAt == nil {
		t.Error("ResolvedAt not set on resolution")
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/security/events/"+ev.ID+"/status", map[string]any{
		"status": "wishful_thinking",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("bad status = %d, want 400", code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t)

	var rule threat.Rule
	code := doJSON(t, s, http.MethodPost, "/v1/security/rules", map[string]any{
		"name":     "block brute force",
		"category": "brute_force",
		"priority": 10,
		"actions":  []string{"block"},
		"active":   true,
	}, &rule)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/security/rules", map[string]any{
		"name":     "bad actions",
		"category": "ddos",
		"actions":  []string{"explode"},
	}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid action status = %d, want 400", code)
	}

	var rules struct {
		Rules []threat.Rule `json:"rules"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/security/rules", nil, &rules); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if len(rules.Rules) != 1 {
		t.Errorf("got %d rules, want 1", len(rules.Rules))
	}

	if code := doJSON(t, s, http.MethodDelete, "/v1/security/rules/"+rule.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", code)
	}
}

func TestReputationEndpoints(t *testing.T) {
	s := newTestServer(t)

	var entry threat.ReputationEntry
	code := doJSON(t, s, http.MethodPost, "/v1/security/reputation", map[string]any{
		"address":      "203.0.113.0/24",
		"threat_level": "high",
		"source":       "feed",
		"active":       true,
	}, &entry)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/security/reputation", map[string]any{
		"address": "not an address",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("bad address status = %d, want 400", code)
	}

	// Reporting from inside the listed range picks up the reputation bonus.
	var ev threat.Event
	code = doJSON(t, s, http.MethodPost, "/v1/security/events", map[string]any{
		"type":    "login_failure",
		"network": map[string]any{"ip_address": "203.0.113.50"},
	}, &ev)
	if code != http.StatusCreated {
		t.Fatalf("report status = %d, want 201", code)
	}
	if want := 10 + 50; ev.RiskScore != want {
		t.Errorf("risk score = %d, want %d", ev.RiskScore, want)
	}

	if code := doJSON(t, s, http.MethodDelete, "/v1/security/reputation/"+entry.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", code)
	}
}

func TestListPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
			"author_id": "alice",
			"content":   fmt.Sprintf("message %d", i),
		}, nil)
	}
	var page struct {
		Cases []moderation.Case `json:"cases"`
		Total int               `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/authors/alice/cases?limit=2&offset=1", nil, &page); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if page.Total != 3 || len(page.Cases) != 2 {
		t.Errorf("page = %d cases total %d, want 2/3", len(page.Cases), page.Total)
	}
}

func TestAppealEndpoints(t *testing.T) {
	s := newTestServer(t)

	var c moderation.Case
	doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
		"author_id": "dana",
		"content":   "an atrocity",
	}, &c)
	doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/review", map[string]any{
		"reviewer_id": "mod-1",
		"decision":    "reject",
	}, nil)

	var appealed moderation.Case
	code := doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/appeal", map[string]any{
		"reason": "quoted from a news report",
	}, &appealed)
	if code != http.StatusOK {
		t.Fatalf("appeal status = %d, want 200", code)
	}
	if !appealed.Appeal.Appealed || appealed.Appeal.Status != moderation.AppealPending {
		t.Fatalf("appeal = %+v, want pending", appealed.Appeal)
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/appeal", map[string]any{
		"reason": "again",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("second appeal status = %d, want 400", code)
	}

	var resolved moderation.Case
	code = doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/appeal/resolve", map[string]any{
		"reviewer_id": "mod-2",
		"uphold":      true,
		"notes":       "fair use",
	}, &resolved)
	if code != http.StatusOK {
		t.Fatalf("resolve status = %d, want 200", code)
	}
	if resolved.Status != moderation.StatusApproved || resolved.Appeal.Status != moderation.AppealApproved {
		t.Errorf("resolved = status %q appeal %q, want approved/approved", resolved.Status, resolved.Appeal.Status)
	}
}

func TestViolationAppealEndpoints(t *testing.T) {
	s := newTestServer(t)

	var c moderation.Case
	doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
		"author_id": "erin",
		"content":   "an atrocity",
	}, &c)
	doJSON(t, s, http.MethodPost, "/v1/moderation/cases/"+c.ID+"/review", map[string]any{
		"reviewer_id": "mod-1",
		"decision":    "reject",
		"violation": map[string]any{
			"type":     "inappropriate_content",
			"severity": "moderate",
			"penalty":  "warning",
		},
	}, nil)

	var violations struct {
		Violations []moderation.Violation `json:"violations"`
	}
	doJSON(t, s, http.MethodGet, "/v1/moderation/users/erin/violations", nil, &violations)
	if len(violations.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(violations.Violations))
	}
	id := violations.Violations[0].ID

	var appealed moderation.Violation
	code := doJSON(t, s, http.MethodPost, "/v1/moderation/violations/"+id+"/appeal", map[string]any{
		"reason": "context was missing",
	}, &appealed)
	if code != http.StatusOK {
		t.Fatalf("appeal status = %d, want 200", code)
	}
	if appealed.Status != moderation.ViolationAppealed {
		t.Fatalf("status = %q, want appealed", appealed.Status)
	}

	var resolved moderation.Violation
	code = doJSON(t, s, http.MethodPost, "/v1/moderation/violations/"+id+"/appeal/resolve", map[string]any{
		"reviewer_id": "mod-2",
		"uphold":      true,
	}, &resolved)
	if code != http.StatusOK {
		t.Fatalf("resolve status = %d, want 200", code)
	}
	if resolved.Status != moderation.ViolationOverturned || resolved.Appeal.Status != moderation.AppealApproved {
		t.Errorf("resolved = status %q appeal %q, want overturned/approved", resolved.Status, resolved.Appeal.Status)
	}
}

func TestReputationCheckEndpoint(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/v1/security/reputation", map[string]any{
		"address":      "203.0.113.0/24",
		"threat_level": "high",
		"source":       "feed",
		"active":       true,
	}, nil)

	var listed struct {
		Listed bool                    `json:"listed"`
		Entry  *threat.ReputationEntry `json:"entry"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/security/reputation/check/203.0.113.50", nil, &listed); code != http.StatusOK {
		t.Fatalf("check status = %d, want 200", code)
	}
	if !listed.Listed || listed.Entry == nil {
		t.Fatalf("check = %+v, want listed with entry", listed)
	}

	var clean struct {
		Listed bool `json:"listed"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/security/reputation/check/198.51.100.7", nil, &clean); code != http.StatusOK {
		t.Fatalf("check status = %d, want 200", code)
	}
	if clean.Listed {
		t.Error("unlisted address reported as listed")
	}

	if code := doJSON(t, s, http.MethodGet, "/v1/security/reputation/check/not-an-ip", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad ip status = %d, want 400", code)
	}
}

func TestViolationCreateAndList(t *testing.T) {
	s := newTestServer(t)

	var v moderation.Violation
	code := doJSON(t, s, http.MethodPost, "/v1/moderation/violations", map[string]any{
		"user_id":     "frank",
		"type":        "spam",
		"severity":    "moderate",
		"description": "bulk advertising",
		"penalty":     map[string]any{"type": "warning"},
	}, &v)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}
	if v.ID == "" || v.Status != moderation.ViolationActive || !v.Penalty.Enforced {
		t.Fatalf("violation = %+v, want active with enforced warning", v)
	}

	if code := doJSON(t, s, http.MethodPost, "/v1/moderation/violations", map[string]any{
		"user_id": "frank",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("missing penalty status = %d, want 400", code)
	}

	var all struct {
		Violations []moderation.Violation `json:"violations"`
		Total      int                    `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/violations", nil, &all); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	if all.Total != 1 || len(all.Violations) != 1 || all.Violations[0].ID != v.ID {
		t.Errorf("list = %+v, want the created violation", all)
	}
}

func TestPendingQueueFilters(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/v1/moderation/check", map[string]any{
		"author_id": "gus",
		"content":   "an atrocity",
	}, nil)

	var page struct {
		Total int `json:"total"`
	}
	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/cases?min_severity=high", nil, &page); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if page.Total != 1 {
		t.Errorf("high-severity total = %d, want 1", page.Total)
	}

	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/cases?min_severity=critical", nil, &page); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if page.Total != 0 {
		t.Errorf("critical total = %d, want 0", page.Total)
	}

	if code := doJSON(t, s, http.MethodGet, "/v1/moderation/cases?content_type=user_profile", nil, &page); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if page.Total != 0 {
		t.Errorf("profile total = %d, want 0", page.Total)
	}
}
