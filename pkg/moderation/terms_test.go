package moderation

import (
	"context"
	"errors"
	"testing"
)

// stubTermStore serves a fixed term list. The embedded interface covers the
// CRUD methods the matcher never calls.
type stubTermStore struct {
	TermStore
	terms []Term
	err   error
}

func (s *stubTermStore) ActiveTerms(ctx context.Context) ([]Term, error) {
	return s.terms, s.err
}

func (s *stubTermStore) RecordHit(ctx context.Context, termID string) error { return nil }

func newTestMatcher(terms ...Term) *TermMatcher {
	return NewTermMatcher(&stubTermStore{terms: terms}, nil)
}

func TestTermMatcherLiteralWordBoundary(t *testing.T) {
	m := newTestMatcher(Term{
		ID: "t1", Pattern: "badword", Category: TermCategoryProfanity,
		Severity: SeverityMedium, Action: TermFilter, Active: true,
	})

	tests := []struct {
		name    string
		content string
		matches bool
	}{
		{"exact word", "that is a badword indeed", true},
		{"mixed case", "a BadWord here", true},
		{"start of string", "badword first", true},
		{"inside larger word", "notabadwordatall", false},
		{"prefix of larger word", "badwords", false},
		{"clean content", "perfectly fine text", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := m.Detect(t.Context(), Input{Content: tt.content})
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if got := len(findings) > 0; got != tt.matches {
				t.Errorf("match = %v, want %v (findings %+v)", got, tt.matches, findings)
			}
		})
	}
}

func TestTermMatcherCJKLiteral(t *testing.T) {
	m := newTestMatcher(Term{
		ID: "t1", Pattern: "免费赚钱", Category: TermCategorySpam,
		Severity: SeverityMedium, Action: TermFilter, Active: true,
	})

	findings, err := m.Detect(t.Context(), Input{Content: "想要免费赚钱吗"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].Kind != FindingSpam {
		t.Errorf("kind = %s, want %s", findings[0].Kind, FindingSpam)
	}
	if len(findings[0].Evidence.Matches) != 1 || findings[0].Evidence.Matches[0] != "免费赚钱" {
		t.Errorf("matches = %v, want [免费赚钱]", findings[0].Evidence.Matches)
	}
}

func TestTermMatcherRegexTerm(t *testing.T) {
	m := newTestMatcher(Term{
		ID: "t1", Pattern: `(?i)\bh[a4]te\b`, IsRegex: true,
		Category: TermCategoryDiscrimination, Severity: SeverityHigh,
		Action: TermReview, Active: true,
	})

	findings, err := m.Detect(t.Context(), Input{Content: "so much h4te around"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 || findings[0].Kind != FindingHateSpeech {
		t.Fatalf("findings = %+v, want one hate_speech", findings)
	}
	if findings[0].Severity != SeverityHigh || findings[0].Confidence != 1.0 {
		t.Errorf("severity/confidence = %s/%v, want high/1.0", findings[0].Severity, findings[0].Confidence)
	}
}

func TestTermMatcherNormalizedEvasion(t *testing.T) {
	m := newTestMatcher(Term{
		ID: "t1", Pattern: "badword", Category: TermCategoryProfanity,
		Severity: SeverityMedium, Action: TermFilter, Active: true,
	})

	// Full-width characters evade the direct pass but fold back to ASCII.
	findings, err := m.Detect(t.Context(), Input{Content: "say ｂａｄｗｏｒｄ quietly"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].Evidence.Detail != "matched after normalization" {
		t.Errorf("detail = %q, want normalization marker", findings[0].Evidence.Detail)
	}
}

func TestTermMatcherDedupesMatches(t *testing.T) {
	m := newTestMatcher(Term{
		ID: "t1", Pattern: "badword", Category: TermCategoryProfanity,
		Severity: SeverityMedium, Action: TermFilter, Active: true,
	})

	findings, err := m.Detect(t.Context(), Input{Content: "badword badword BADWORD"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Case variants are distinct match strings; identical ones collapse.
	if got := findings[0].Evidence.Matches; len(got) != 2 {
		t.Errorf("matches = %v, want two distinct entries", got)
	}
}

func TestTermMatcherSkipsMalformedTerm(t *testing.T) {
	m := newTestMatcher(
		Term{ID: "bad", Pattern: `([unclosed`, IsRegex: true, Category: TermCategoryCustom, Severity: SeverityLow, Action: TermWarn, Active: true},
		Term{ID: "good", Pattern: "badword", Category: TermCategoryProfanity, Severity: SeverityMedium, Action: TermFilter, Active: true},
	)

	findings, err := m.Detect(t.Context(), Input{Content: "a badword survives"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1 from the well-formed term", len(findings))
	}
}

func TestTermMatcherStoreError(t *testing.T) {
	m := NewTermMatcher(&stubTermStore{err: errors.New("db down")}, nil)
	if _, err := m.Detect(t.Context(), Input{Content: "x"}); err == nil {
		t.Fatal("Detect returned nil error, want store error")
	}
}

func TestTermMatcherRedact(t *testing.T) {
	m := newTestMatcher(
		Term{ID: "t1", Pattern: "badword", Category: TermCategoryProfanity, Severity: SeverityMedium, Action: TermFilter, Active: true},
		Term{ID: "t2", Pattern: "slur", Category: TermCategoryDiscrimination, Severity: SeverityHigh, Action: TermFilter, Replacement: "[removed]", Active: true},
		Term{ID: "t3", Pattern: "atrocity", Category: TermCategoryViolence, Severity: SeverityCritical, Action: TermBlock, Active: true},
	)

	tests := []struct {
		name        string
		content     string
		want        string
		wantChanged bool
	}{
		{"default replacement", "what a badword", "what a ***", true},
		{"custom replacement", "that slur again", "that [removed] again", true},
		{"multiple occurrences", "badword and badword", "*** and ***", true},
		{"block terms untouched", "an atrocity happened", "an atrocity happened", false},
		{"clean content", "all fine here", "all fine here", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := m.Redact(t.Context(), tt.content)
			if err != nil {
				t.Fatalf("Redact: %v", err)
			}
			if got != tt.want || changed != tt.wantChanged {
				t.Errorf("Redact = (%q, %v), want (%q, %v)", got, changed, tt.want, tt.wantChanged)
			}
		})
	}
}

func TestTermMatcherRedactIdempotent(t *testing.T) {
	m := newTestMatcher(Term{
		ID: "t1", Pattern: "badword", Category: TermCategoryProfanity,
		Severity: SeverityMedium, Action: TermFilter, Active: true,
	})

	once, _, err := m.Redact(t.Context(), "a badword here")
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	twice, changed, err := m.Redact(t.Context(), once)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if changed || twice != once {
		t.Errorf("second Redact = (%q, %v), want unchanged", twice, changed)
	}
}
