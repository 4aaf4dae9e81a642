package store

import (
	"context"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vigilant-labs/vigil/pkg/threat"
)

// countingRepStore counts Lookup calls so tests can observe whether the
// cache was consulted.
type countingRepStore struct {
	threat.ReputationStore
	calls atomic.Int64
}

func (s *countingRepStore) Lookup(ctx context.Context, addr netip.Addr) (*threat.ReputationEntry, error) {
	s.calls.Add(1)
	return s.ReputationStore.Lookup(ctx, addr)
}

func TestCachedReputationStoreServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepStore{ReputationStore: NewMemoryReputationStore()}
	s := NewCachedReputationStore(inner, time.Minute)

	entry := &threat.ReputationEntry{
		Address:     "203.0.113.0/24",
		ThreatLevel: threat.LevelHigh,
		Source:      "feed",
		Active:      true,
	}
	if err := s.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	addr := netip.MustParseAddr("203.0.113.50")
	for i := 0; i < 3; i++ {
		got, err := s.Lookup(ctx, addr)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if got == nil || got.ID != entry.ID {
			t.Fatalf("Lookup = %+v, want the seeded entry", got)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner Lookup called %d times, want 1", n)
	}
}

func TestCachedReputationStoreCachesMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepStore{ReputationStore: NewMemoryReputationStore()}
	s := NewCachedReputationStore(inner, time.Minute)

	addr := netip.MustParseAddr("198.51.100.7")
	for i := 0; i < 3; i++ {
		got, err := s.Lookup(ctx, addr)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if got != nil {
			t.Fatalf("Lookup = %+v, want nil for an unlisted address", got)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner Lookup called %d times, want 1", n)
	}
}

func TestCachedReputationStoreInvalidation(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepStore{ReputationStore: NewMemoryReputationStore()}
	s := NewCachedReputationStore(inner, time.Minute)

	addr := netip.MustParseAddr("203.0.113.50")
	if got, err := s.Lookup(ctx, addr); err != nil || got != nil {
		t.Fatalf("Lookup = %+v, %v; want a cached miss", got, err)
	}

	// Listing the range must take effect immediately on this instance.
	entry := &threat.ReputationEntry{
		Address:     "203.0.113.0/24",
		ThreatLevel: threat.LevelHigh,
		Source:      "manual",
		Active:      true,
	}
	if err := s.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	got, err := s.Lookup(ctx, addr)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || got.ID != entry.ID {
		t.Fatalf("Lookup after create = %+v, want the new entry", got)
	}

	// Deactivating it must drop the cached hit the same way.
	entry.Active = false
	if err := s.UpdateEntry(ctx, entry); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if got, err := s.Lookup(ctx, addr); err != nil || got != nil {
		t.Fatalf("Lookup after deactivate = %+v, %v; want nil", got, err)
	}
}
