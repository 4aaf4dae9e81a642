// Package store provides the persistence backends: in-memory for tests and
// single-node development, Postgres (pgx) for production, and Redis-backed
// caches and counters layered on either.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilant-labs/vigil/pkg/moderation"
)

// MemoryTermStore keeps sensitive terms in process memory.
type MemoryTermStore struct {
	mu    sync.RWMutex
	terms map[string]moderation.Term
}

// NewMemoryTermStore creates an empty term store.
func NewMemoryTermStore() *MemoryTermStore {
	return &MemoryTermStore{terms: make(map[string]moderation.Term)}
}

// ActiveTerms implements moderation.TermStore.
func (s *MemoryTermStore) ActiveTerms(ctx context.Context) ([]moderation.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []moderation.Term
	for _, t := range s.terms {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordHit implements moderation.TermStore.
func (s *MemoryTermStore) RecordHit(ctx context.Context, termID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[termID]
	if !ok {
		return moderation.ErrNotFound
	}
	t.HitCount++
	t.LastHitAt = time.Now().UTC()
	s.terms[termID] = t
	return nil
}

// CreateTerm implements moderation.TermStore.
func (s *MemoryTermStore) CreateTerm(ctx context.Context, t *moderation.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.terms[t.ID] = *t
	return nil
}

// UpdateTerm implements moderation.TermStore.
func (s *MemoryTermStore) UpdateTerm(ctx context.Context, t *moderation.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terms[t.ID]; !ok {
		return moderation.ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	s.terms[t.ID] = *t
	return nil
}

// GetTerm implements moderation.TermStore.
func (s *MemoryTermStore) GetTerm(ctx context.Context, id string) (*moderation.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[id]
	if !ok {
		return nil, moderation.ErrNotFound
	}
	out := t
	return &out, nil
}

// ListTerms implements moderation.TermStore.
func (s *MemoryTermStore) ListTerms(ctx context.Context, category string, includeInactive bool) ([]moderation.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []moderation.Term
	for _, t := range s.terms {
		if !includeInactive && !t.Active {
			continue
		}
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteTerm implements moderation.TermStore.
func (s *MemoryTermStore) DeleteTerm(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terms[id]; !ok {
		return moderation.ErrNotFound
	}
	delete(s.terms, id)
	return nil
}

// MemoryCaseStore keeps moderation cases in process memory.
type MemoryCaseStore struct {
	mu    sync.RWMutex
	cases map[string]moderation.Case
	order []string // insertion order for stable listings
}

// NewMemoryCaseStore creates an empty case store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{cases: make(map[string]moderation.Case)}
}

func copyCase(c moderation.Case) *moderation.Case {
	out := c
	out.Findings = append([]moderation.Finding(nil), c.Findings...)
	out.Actions = append([]moderation.ActionRecord(nil), c.Actions...)
	return &out
}

// CreateCase implements moderation.CaseStore.
func (s *MemoryCaseStore) CreateCase(ctx context.Context, c *moderation.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = *copyCase(*c)
	s.order = append(s.order, c.ID)
	return nil
}

// GetCase implements moderation.CaseStore.
func (s *MemoryCaseStore) GetCase(ctx context.Context, id string) (*moderation.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, moderation.ErrNotFound
	}
	return copyCase(c), nil
}

// UpdateCase implements moderation.CaseStore. Reviewed cases are immutable
// to automatic updates.
func (s *MemoryCaseStore) UpdateCase(ctx context.Context, c *moderation.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cases[c.ID]
	if !ok {
		return moderation.ErrNotFound
	}
	if existing.Review.Reviewed {
		return moderation.ErrAlreadyReviewed
	}
	s.cases[c.ID] = *copyCase(*c)
	return nil
}

// RecordReview implements moderation.CaseStore with compare-and-set
// semantics on the reviewed flag.
func (s *MemoryCaseStore) RecordReview(ctx context.Context, id string, review moderation.Review, status moderation.Status, action moderation.ActionRecord) (*moderation.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, moderation.ErrNotFound
	}
	if c.Review.Reviewed {
		return nil, moderation.ErrAlreadyReviewed
	}
	c.Review = review
	c.Status = status
	c.Actions = append(append([]moderation.ActionRecord(nil), c.Actions...), action)
	c.UpdatedAt = time.Now().UTC()
	s.cases[id] = c
	return copyCase(c), nil
}

// SetAppeal implements moderation.CaseStore. Appeals may touch reviewed
// cases; an upheld appeal passes the overturned status.
func (s *MemoryCaseStore) SetAppeal(ctx context.Context, id string, appeal moderation.Appeal, status moderation.Status, actions ...moderation.ActionRecord) (*moderation.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, moderation.ErrNotFound
	}
	c.Appeal = appeal
	if status != "" {
		c.Status = status
	}
	c.Actions = append(append([]moderation.ActionRecord(nil), c.Actions...), actions...)
	c.UpdatedAt = time.Now().UTC()
	s.cases[id] = c
	return copyCase(c), nil
}

// ListPending implements moderation.CaseStore.
func (s *MemoryCaseStore) ListPending(ctx context.Context, opts moderation.ListOptions) ([]*moderation.Case, int, error) {
	opts = opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*moderation.Case
	for _, id := range s.order {
		c := s.cases[id]
		if c.Status != moderation.StatusPendingReview {
			continue
		}
		if opts.ContentType != "" && c.ContentType != opts.ContentType {
			continue
		}
		if opts.MinSeverity != "" && !anyFindingAtLeast(c.Findings, opts.MinSeverity) {
			continue
		}
		pending = append(pending, copyCase(c))
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return paginateCases(pending, opts)
}

// ListByAuthor implements moderation.CaseStore.
func (s *MemoryCaseStore) ListByAuthor(ctx context.Context, authorID string, opts moderation.ListOptions) ([]*moderation.Case, int, error) {
	opts = opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*moderation.Case
	for _, id := range s.order {
		c := s.cases[id]
		if c.AuthorID == authorID {
			out = append(out, copyCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginateCases(out, opts)
}

func paginateCases(cs []*moderation.Case, opts moderation.ListOptions) ([]*moderation.Case, int, error) {
	total := len(cs)
	if opts.Offset >= total {
		return nil, total, nil
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}
	return cs[opts.Offset:end], total, nil
}

func anyFindingAtLeast(findings []moderation.Finding, min moderation.Severity) bool {
	for _, f := range findings {
		if f.Severity.Rank() >= min.Rank() {
			return true
		}
	}
	return false
}

// MemoryHistoryStore tracks recent author content for duplicate detection.
type MemoryHistoryStore struct {
	mu   sync.Mutex
	seen map[string][]time.Time
	now  func() time.Time
}

// NewMemoryHistoryStore creates an empty history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{seen: make(map[string][]time.Time), now: time.Now}
}

func contentKey(authorID, content string) string {
	sum := sha256.Sum256([]byte(content))
	return authorID + ":" + hex.EncodeToString(sum[:8])
}

// RecordContent implements moderation.HistoryStore.
func (s *MemoryHistoryStore) RecordContent(ctx context.Context, authorID, content string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contentKey(authorID, content)
	now := s.now()
	cutoff := now.Add(-window)

	kept := s.seen[key][:0]
	for _, t := range s.seen[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.seen[key] = kept
	return len(kept), nil
}

// MemoryViolationStore keeps violations in process memory.
type MemoryViolationStore struct {
	mu         sync.RWMutex
	violations map[string]moderation.Violation
	order      []string
}

// NewMemoryViolationStore creates an empty violation store.
func NewMemoryViolationStore() *MemoryViolationStore {
	return &MemoryViolationStore{violations: make(map[string]moderation.Violation)}
}

// CreateViolation implements moderation.ViolationStore.
func (s *MemoryViolationStore) CreateViolation(ctx context.Context, v *moderation.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations[v.ID] = *v
	s.order = append(s.order, v.ID)
	return nil
}

// GetViolation implements moderation.ViolationStore.
func (s *MemoryViolationStore) GetViolation(ctx context.Context, id string) (*moderation.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.violations[id]
	if !ok {
		return nil, moderation.ErrNotFound
	}
	out := v
	return &out, nil
}

// UpdateViolation implements moderation.ViolationStore.
func (s *MemoryViolationStore) UpdateViolation(ctx context.Context, v *moderation.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.violations[v.ID]; !ok {
		return moderation.ErrNotFound
	}
	s.violations[v.ID] = *v
	return nil
}

// ListByUser implements moderation.ViolationStore.
func (s *MemoryViolationStore) ListByUser(ctx context.Context, userID string, opts moderation.ListOptions) ([]*moderation.Violation, int, error) {
	opts = opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*moderation.Violation
	for _, id := range s.order {
		v := s.violations[id]
		if v.UserID == userID {
			cp := v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := len(out)
	if opts.Offset >= total {
		return nil, total, nil
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}
	return out[opts.Offset:end], total, nil
}

// ListViolations implements moderation.ViolationStore.
func (s *MemoryViolationStore) ListViolations(ctx context.Context, opts moderation.ListOptions) ([]*moderation.Violation, int, error) {
	opts = opts.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*moderation.Violation, 0, len(s.order))
	for _, id := range s.order {
		cp := s.violations[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := len(out)
	if opts.Offset >= total {
		return nil, total, nil
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}
	return out[opts.Offset:end], total, nil
}

// AccountState is the in-memory account record the penalty enforcer acts on.
type AccountState struct {
	Active         bool
	SuspendedUntil *time.Time
	Restrictions   []string
	Warnings       []string
}

// MemoryAccountStore applies penalties to in-memory account records. It is
// the test double for the production account service.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*AccountState

	// FailWith, when set, makes every mutation fail. Tests use it to
	// exercise enforcement retry paths.
	FailWith error
}

// NewMemoryAccountStore creates an empty account store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*AccountState)}
}

func (s *MemoryAccountStore) account(userID string) *AccountState {
	a, ok := s.accounts[userID]
	if !ok {
		a = &AccountState{Active: true}
		s.accounts[userID] = a
	}
	return a
}

// Account returns a copy of the current account state.
func (s *MemoryAccountStore) Account(userID string) AccountState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return AccountState{Active: true}
	}
	out := *a
	out.Restrictions = append([]string(nil), a.Restrictions...)
	out.Warnings = append([]string(nil), a.Warnings...)
	return out
}

// SuspendUntil implements moderation.AccountStore.
func (s *MemoryAccountStore) SuspendUntil(ctx context.Context, userID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.account(userID).SuspendedUntil = &until
	return nil
}

// Deactivate implements moderation.AccountStore.
func (s *MemoryAccountStore) Deactivate(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.account(userID).Active = false
	return nil
}

// RestrictFeatures implements moderation.AccountStore.
func (s *MemoryAccountStore) RestrictFeatures(ctx context.Context, userID string, features []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	a := s.account(userID)
	a.Restrictions = append(a.Restrictions, features...)
	return nil
}

// Warn implements moderation.AccountStore.
func (s *MemoryAccountStore) Warn(ctx context.Context, userID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	a := s.account(userID)
	a.Warnings = append(a.Warnings, message)
	return nil
}
