// Package patterns provides a centralized, high-performance pattern registry
// for content and request inspection. All regex patterns are compiled once at
// package init and shared across all detectors and the threat rule engine.
//
// Design principles:
// - COMPILE ONCE: All patterns compiled at init, not per-request
// - DRY: Single source of truth for detection patterns
// - CATEGORIZED: Patterns organized by category for targeted scans
// - EXTENSIBLE: Easy to add new patterns without modifying detector code
package patterns

import (
	"regexp"
	"sync"
)

// Category represents a detection pattern category
type Category string

const (
	// Personal information categories (content moderation)
	CategoryPhone       Category = "phone"
	CategoryEmail       Category = "email"
	CategoryNationalID  Category = "national_id"
	CategoryPaymentCard Category = "payment_card"

	// Spam indicator category (content moderation)
	CategorySpam Category = "spam"

	// Attack signature categories (security event payloads)
	CategorySQLInjection  Category = "sql_injection"
	CategoryXSS           Category = "xss"
	CategoryPathTraversal Category = "path_traversal"
)

// PersonalInfoCategories lists the categories scanned by the personal
// information detector, in reporting order.
func PersonalInfoCategories() []Category {
	return []Category{CategoryPhone, CategoryEmail, CategoryNationalID, CategoryPaymentCard}
}

// AttackCategories lists the categories scanned against request payloads
// when a security event is evaluated.
func AttackCategories() []Category {
	return []Category{CategorySQLInjection, CategoryXSS, CategoryPathTraversal}
}

// Pattern holds a compiled regex with metadata
type Pattern struct {
	Name        string         // Human-readable name for logging
	Regex       *regexp.Regexp // Compiled regex (never nil after init)
	Category    Category       // Detection category
	Weight      int            // Score contribution (0-100)
	Description string         // What this pattern detects
}

// Registry holds all compiled patterns, organized by category
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category][]*Pattern
	all        []*Pattern
}

// global singleton - initialized once at package load
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global pattern registry (singleton)
// Thread-safe and guaranteed to be initialized
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

// newRegistry creates and populates the pattern registry
func newRegistry() *Registry {
	r := &Registry{
		byCategory: make(map[Category][]*Pattern),
		all:        make([]*Pattern, 0, 64),
	}

	r.registerPersonalInfoPatterns()
	r.registerSpamPatterns()
	r.registerAttackPatterns()

	return r
}

// register adds a pattern to the registry (internal use only)
func (r *Registry) register(name string, pattern string, category Category, weight int, description string) {
	compiled := regexp.MustCompile(pattern)
	p := &Pattern{
		Name:        name,
		Regex:       compiled,
		Category:    category,
		Weight:      weight,
		Description: description,
	}

	r.byCategory[category] = append(r.byCategory[category], p)
	r.all = append(r.all, p)
}

// GetByCategory returns all patterns for a specific category
// Returns empty slice if category not found (never nil)
func (r *Registry) GetByCategory(cat Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// GetMultipleCategories returns patterns from multiple categories
func (r *Registry) GetMultipleCategories(cats ...Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Pattern
	for _, cat := range cats {
		if patterns, ok := r.byCategory[cat]; ok {
			result = append(result, patterns...)
		}
	}
	return result
}

// MatchAny checks if text matches any pattern in the given categories
// Returns the first matching pattern or nil
// This is optimized for early exit on first match
func (r *Registry) MatchAny(text string, cats ...Category) *Pattern {
	patterns := r.GetMultipleCategories(cats...)
	for _, p := range patterns {
		if p.Regex.MatchString(text) {
			return p
		}
	}
	return nil
}

// MatchAll returns all patterns that match the text in given categories
// Use when you need to know ALL matches (for comprehensive scoring)
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	patterns := r.GetMultipleCategories(cats...)
	var matches []*Pattern
	for _, p := range patterns {
		if p.Regex.MatchString(text) {
			matches = append(matches, p)
		}
	}
	return matches
}

// FindAll returns the concrete substrings of text matched by patterns in the
// given category, deduplicated, preserving first-seen order.
func (r *Registry) FindAll(text string, cat Category) []string {
	patterns := r.GetByCategory(cat)
	seen := make(map[string]struct{})
	var matches []string
	for _, p := range patterns {
		for _, m := range p.Regex.FindAllString(text, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			matches = append(matches, m)
		}
	}
	return matches
}

// TotalPatterns returns the total count of registered patterns
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// CategoryCount returns the number of patterns in a category
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory[cat])
}
