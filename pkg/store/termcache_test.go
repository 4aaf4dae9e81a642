package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vigilant-labs/vigil/pkg/moderation"
)

// countingTermStore counts ActiveTerms calls so tests can observe
// whether the cache was consulted.
type countingTermStore struct {
	moderation.TermStore
	calls atomic.Int64
}

func (s *countingTermStore) ActiveTerms(ctx context.Context) ([]moderation.Term, error) {
	s.calls.Add(1)
	return s.TermStore.ActiveTerms(ctx)
}

func TestCachedTermStoreServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingTermStore{TermStore: NewMemoryTermStore()}
	s := NewCachedTermStore(inner, time.Minute)

	term := &moderation.Term{Pattern: "x", Active: true}
	if err := s.CreateTerm(ctx, term); err != nil {
		t.Fatalf("CreateTerm: %v", err)
	}

	for i := 0; i < 3; i++ {
		terms, err := s.ActiveTerms(ctx)
		if err != nil {
			t.Fatalf("ActiveTerms: %v", err)
		}
		if len(terms) != 1 {
			t.Fatalf("got %d terms, want 1", len(terms))
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner ActiveTerms called %d times, want 1", n)
	}
}

func TestCachedTermStoreInvalidation(t *testing.T) {
	ctx := context.Background()
	inner := &countingTermStore{TermStore: NewMemoryTermStore()}
	s := NewCachedTermStore(inner, time.Minute)

	term := &moderation.Term{Pattern: "x", Active: true}
	if err := s.CreateTerm(ctx, term); err != nil {
		t.Fatalf("CreateTerm: %v", err)
	}
	if _, err := s.ActiveTerms(ctx); err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}

	// Deactivating must invalidate so the next read sees the change.
	term.Active = false
	if err := s.UpdateTerm(ctx, term); err != nil {
		t.Fatalf("UpdateTerm: %v", err)
	}
	terms, err := s.ActiveTerms(ctx)
	if err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}
	if len(terms) != 0 {
		t.Errorf("got %d terms after deactivation, want 0", len(terms))
	}
	if n := inner.calls.Load(); n != 2 {
		t.Errorf("inner ActiveTerms called %d times, want 2", n)
	}

	// Deletes invalidate too.
	term2 := &moderation.Term{Pattern: "y", Active: true}
	if err := s.CreateTerm(ctx, term2); err != nil {
		t.Fatalf("CreateTerm: %v", err)
	}
	if _, err := s.ActiveTerms(ctx); err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}
	if err := s.DeleteTerm(ctx, term2.ID); err != nil {
		t.Fatalf("DeleteTerm: %v", err)
	}
	terms, err = s.ActiveTerms(ctx)
	if err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}
	if len(terms) != 0 {
		t.Errorf("got %d terms after delete, want 0", len(terms))
	}
}

func TestCachedTermStoreRecordHitKeepsCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingTermStore{TermStore: NewMemoryTermStore()}
	s := NewCachedTermStore(inner, time.Minute)

	term := &moderation.Term{Pattern: "x", Active: true}
	if err := s.CreateTerm(ctx, term); err != nil {
		t.Fatalf("CreateTerm: %v", err)
	}
	if _, err := s.ActiveTerms(ctx); err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}
	if err := s.RecordHit(ctx, term.ID); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}
	if _, err := s.ActiveTerms(ctx); err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner ActiveTerms called %d times, want 1 (hit must not invalidate)", n)
	}
}
