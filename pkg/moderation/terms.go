package moderation

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/vigilant-labs/vigil/pkg/httputil"
)

// DefaultReplacement masks filtered terms when no replacement is configured.
const DefaultReplacement = "***"

// Redactor produces a sanitized copy of content. Redactors compose: the
// engine feeds each redactor the previous one's output.
type Redactor interface {
	Redact(ctx context.Context, content string) (string, bool, error)
}

// TermMatcher matches configured sensitive terms against content. Literal
// terms made of word characters are matched on word boundaries,
// case-insensitively; everything else (CJK terms, regex terms) is matched
// as written. A second pass over the width-folded, case-folded form of the
// content catches full-width and mixed-case evasions.
type TermMatcher struct {
	store  TermStore
	log    *zap.Logger
	hitSem *httputil.Semaphore

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp // keyed by term ID + pattern
}

// NewTermMatcher creates a matcher backed by the given term store.
func NewTermMatcher(store TermStore, log *zap.Logger) *TermMatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &TermMatcher{
		store:    store,
		log:      log,
		hitSem:   httputil.NewSemaphore(32),
		compiled: make(map[string]*regexp.Regexp),
	}
}

// Name implements Detector.
func (m *TermMatcher) Name() string { return "terms" }

var wordPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// compile returns the compiled form of a term, caching by ID and pattern so
// edited terms recompile while unchanged ones don't.
func (m *TermMatcher) compile(t Term) (*regexp.Regexp, error) {
	key := t.ID + "\x00" + t.Pattern

	m.mu.Lock()
	re, ok := m.compiled[key]
	m.mu.Unlock()
	if ok {
		return re, nil
	}

	expr := t.Pattern
	if !t.IsRegex {
		quoted := regexp.QuoteMeta(t.Pattern)
		if wordPattern.MatchString(t.Pattern) {
			expr = `(?i)\b` + quoted + `\b`
		} else {
			expr = quoted
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("term %s: %w", t.ID, err)
	}

	m.mu.Lock()
	m.compiled[key] = re
	m.mu.Unlock()
	return re, nil
}

// foldForMatching normalizes content for the evasion pass: full-width forms
// folded to half-width, compatibility decomposition, lowercase.
func foldForMatching(s string) string {
	folded := width.Fold.String(s)
	folded = norm.NFKC.String(folded)
	return cases.Lower(language.Und).String(folded)
}

// Detect implements Detector.
func (m *TermMatcher) Detect(ctx context.Context, in Input) ([]Finding, error) {
	terms, err := m.store.ActiveTerms(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading terms: %w", err)
	}

	var findings []Finding
	var folded string // computed lazily, most content never needs it

	for _, t := range terms {
		re, err := m.compile(t)
		if err != nil {
			// A malformed term must not take the whole detector down.
			m.log.Warn("skipping malformed term", zap.String("term_id", t.ID), zap.Error(err))
			continue
		}

		matches := re.FindAllString(in.Content, -1)
		normalized := false
		if len(matches) == 0 {
			if folded == "" {
				folded = foldForMatching(in.Content)
			}
			matches = re.FindAllString(folded, -1)
			normalized = true
		}
		if len(matches) == 0 {
			continue
		}

		m.recordHit(t.ID)

		ev := Evidence{
			Matches:  dedupe(matches),
			Category: t.Category,
		}
		if normalized {
			ev.Detail = "matched after normalization"
		}
		findings = append(findings, Finding{
			Kind:       findingKindForTermCategory(t.Category),
			Severity:   t.Severity,
			Confidence: 1.0,
			Evidence:   ev,
		})
	}
	return findings, nil
}

// recordHit bumps the term's hit counter off the request path. Counters
// are advisory: when the semaphore is saturated the hit is dropped rather
// than stalling detection.
func (m *TermMatcher) recordHit(termID string) {
	if !m.hitSem.TryAcquire() {
		return
	}
	go func() {
		defer m.hitSem.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.RecordHit(ctx, termID); err != nil {
			m.log.Warn("term hit not recorded", zap.String("term_id", termID), zap.Error(err))
		}
	}()
}

// Redact implements Redactor: occurrences of filter-action terms are
// replaced in the original content. Terms that only match the normalized
// form are reported as findings but cannot be redacted in place.
func (m *TermMatcher) Redact(ctx context.Context, content string) (string, bool, error) {
	terms, err := m.store.ActiveTerms(ctx)
	if err != nil {
		return content, false, fmt.Errorf("loading terms: %w", err)
	}

	changed := false
	for _, t := range terms {
		if t.Action != TermFilter {
			continue
		}
		re, err := m.compile(t)
		if err != nil {
			continue
		}
		replacement := t.Replacement
		if replacement == "" {
			replacement = DefaultReplacement
		}
		next := re.ReplaceAllString(content, replacement)
		if next != content {
			changed = true
			content = next
		}
	}
	return content, changed, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
