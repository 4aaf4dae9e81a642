package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vigilant-labs/vigil/pkg/moderation"
)

const activeTermsKey = "active_terms"

// CachedTermStore decorates a TermStore with a short-lived cache over the
// active term set, so the matcher does not hit the database on every
// submission. Writes invalidate the cache immediately; other instances
// converge within the TTL.
type CachedTermStore struct {
	inner moderation.TermStore
	cache *gocache.Cache
}

// NewCachedTermStore wraps a term store with the given TTL.
func NewCachedTermStore(inner moderation.TermStore, ttl time.Duration) *CachedTermStore {
	return &CachedTermStore{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// ActiveTerms implements moderation.TermStore.
func (s *CachedTermStore) ActiveTerms(ctx context.Context) ([]moderation.Term, error) {
	if v, ok := s.cache.Get(activeTermsKey); ok {
		return v.([]moderation.Term), nil
	}
	terms, err := s.inner.ActiveTerms(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(activeTermsKey, terms)
	return terms, nil
}

// RecordHit implements moderation.TermStore. Hit counters don't affect
// matching, so the cache is left alone.
func (s *CachedTermStore) RecordHit(ctx context.Context, termID string) error {
	return s.inner.RecordHit(ctx, termID)
}

// CreateTerm implements moderation.TermStore.
func (s *CachedTermStore) CreateTerm(ctx context.Context, t *moderation.Term) error {
	if err := s.inner.CreateTerm(ctx, t); err != nil {
		return err
	}
	s.cache.Delete(activeTermsKey)
	return nil
}

// UpdateTerm implements moderation.TermStore.
func (s *CachedTermStore) UpdateTerm(ctx context.Context, t *moderation.Term) error {
	if err := s.inner.UpdateTerm(ctx, t); err != nil {
		return err
	}
	s.cache.Delete(activeTermsKey)
	return nil
}

// GetTerm implements moderation.TermStore.
func (s *CachedTermStore) GetTerm(ctx context.Context, id string) (*moderation.Term, error) {
	return s.inner.GetTerm(ctx, id)
}

// ListTerms implements moderation.TermStore.
func (s *CachedTermStore) ListTerms(ctx context.Context, category string, includeInactive bool) ([]moderation.Term, error) {
	return s.inner.ListTerms(ctx, category, includeInactive)
}

// DeleteTerm implements moderation.TermStore.
func (s *CachedTermStore) DeleteTerm(ctx context.Context, id string) error {
	if err := s.inner.DeleteTerm(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(activeTermsKey)
	return nil
}
