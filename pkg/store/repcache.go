package store

import (
	"context"
	"net/netip"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/vigilant-labs/vigil/pkg/threat"
)

// CachedReputationStore decorates a ReputationStore with a short-lived
// per-address cache over Lookup, so hot sources do not hit the database on
// every event. Misses are cached too. Writes flush the cache immediately;
// other instances converge within the TTL, so a newly listed address may
// take effect with a small delay.
type CachedReputationStore struct {
	inner threat.ReputationStore
	cache *gocache.Cache
}

// NewCachedReputationStore wraps a reputation store with the given TTL.
func NewCachedReputationStore(inner threat.ReputationStore, ttl time.Duration) *CachedReputationStore {
	return &CachedReputationStore{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Lookup implements threat.ReputationStore.
func (s *CachedReputationStore) Lookup(ctx context.Context, addr netip.Addr) (*threat.ReputationEntry, error) {
	key := addr.String()
	if v, ok := s.cache.Get(key); ok {
		return v.(*threat.ReputationEntry), nil
	}
	entry, err := s.inner.Lookup(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, entry)
	return entry, nil
}

// RecordHit implements threat.ReputationStore. Hit counters don't affect
// lookups, so the cache is left alone.
func (s *CachedReputationStore) RecordHit(ctx context.Context, id string) error {
	return s.inner.RecordHit(ctx, id)
}

// CreateEntry implements threat.ReputationStore.
func (s *CachedReputationStore) CreateEntry(ctx context.Context, e *threat.ReputationEntry) error {
	if err := s.inner.CreateEntry(ctx, e); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// UpdateEntry implements threat.ReputationStore.
func (s *CachedReputationStore) UpdateEntry(ctx context.Context, e *threat.ReputationEntry) error {
	if err := s.inner.UpdateEntry(ctx, e); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// DeleteEntry implements threat.ReputationStore.
func (s *CachedReputationStore) DeleteEntry(ctx context.Context, id string) error {
	if err := s.inner.DeleteEntry(ctx, id); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// GetEntry implements threat.ReputationStore.
func (s *CachedReputationStore) GetEntry(ctx context.Context, id string) (*threat.ReputationEntry, error) {
	return s.inner.GetEntry(ctx, id)
}

// ListEntries implements threat.ReputationStore.
func (s *CachedReputationStore) ListEntries(ctx context.Context, includeInactive bool) ([]*threat.ReputationEntry, error) {
	return s.inner.ListEntries(ctx, includeInactive)
}
