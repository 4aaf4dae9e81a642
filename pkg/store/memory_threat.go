package store

import (
	"context"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilant-labs/vigil/pkg/threat"
)

// MemoryEventStore keeps security events in process memory.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]threat.Event
	order  []string
}

// NewMemoryEventStore creates an empty event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]threat.Event)}
}

func copyEvent(e threat.Event) *threat.Event {
	out := e
	out.Signatures = append([]string(nil), e.Signatures...)
	out.Flags = append([]string(nil), e.Flags...)
	out.Responses = append([]threat.ActionResult(nil), e.Responses...)
	return &out
}

// CreateEvent implements threat.EventStore.
func (s *MemoryEventStore) CreateEvent(ctx context.Context, e *threat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = *copyEvent(*e)
	s.order = append(s.order, e.ID)
	return nil
}

// GetEvent implements threat.EventStore.
func (s *MemoryEventStore) GetEvent(ctx context.Context, id string) (*threat.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, threat.ErrNotFound
	}
	return copyEvent(e), nil
}

// UpdateEvent implements threat.EventStore.
func (s *MemoryEventStore) UpdateEvent(ctx context.Context, e *threat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return threat.ErrNotFound
	}
	s.events[e.ID] = *copyEvent(*e)
	return nil
}

// ListEvents implements threat.EventStore.
func (s *MemoryEventStore) ListEvents(ctx context.Context, filter threat.EventFilter) ([]*threat.Event, int, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*threat.Event
	for _, id := range s.order {
		e := s.events[id]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.IP != "" && e.Network.IPAddress != filter.IP {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := len(out)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return out[filter.Offset:end], total, nil
}

// MemoryRuleStore keeps response rules in process memory.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]threat.Rule
}

// NewMemoryRuleStore creates an empty rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]threat.Rule)}
}

func copyRule(r threat.Rule) *threat.Rule {
	out := r
	out.Actions = append([]threat.ResponseAction(nil), r.Actions...)
	return &out
}

// CreateRule implements threat.RuleStore.
func (s *MemoryRuleStore) CreateRule(ctx context.Context, r *threat.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.rules[r.ID] = *copyRule(*r)
	return nil
}

// GetRule implements threat.RuleStore.
func (s *MemoryRuleStore) GetRule(ctx context.Context, id string) (*threat.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, threat.ErrNotFound
	}
	return copyRule(r), nil
}

// UpdateRule implements threat.RuleStore.
func (s *MemoryRuleStore) UpdateRule(ctx context.Context, r *threat.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return threat.ErrNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	s.rules[r.ID] = *copyRule(*r)
	return nil
}

// DeleteRule implements threat.RuleStore.
func (s *MemoryRuleStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return threat.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// ActiveRules implements threat.RuleStore: active rules for the category,
// priority descending, creation time ascending on ties.
func (s *MemoryRuleStore) ActiveRules(ctx context.Context, category threat.Category) ([]*threat.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*threat.Rule
	for _, r := range s.rules {
		if r.Active && r.Category == category {
			out = append(out, copyRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListRules implements threat.RuleStore.
func (s *MemoryRuleStore) ListRules(ctx context.Context, includeInactive bool) ([]*threat.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*threat.Rule
	for _, r := range s.rules {
		if !includeInactive && !r.Active {
			continue
		}
		out = append(out, copyRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordTrigger implements threat.RuleStore. The update is atomic under
// the store lock.
func (s *MemoryRuleStore) RecordTrigger(ctx context.Context, ruleID string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return threat.ErrNotFound
	}
	r.Stats.Triggered++
	if blocked {
		r.Stats.Blocked++
	}
	r.Stats.LastTriggeredAt = time.Now().UTC()
	s.rules[ruleID] = r
	return nil
}

// MemoryReputationStore keeps reputation entries in process memory with
// parsed prefixes for containment lookups.
type MemoryReputationStore struct {
	mu      sync.RWMutex
	entries map[string]threat.ReputationEntry
	now     func() time.Time
}

// NewMemoryReputationStore creates an empty reputation store.
func NewMemoryReputationStore() *MemoryReputationStore {
	return &MemoryReputationStore{
		entries: make(map[string]threat.ReputationEntry),
		now:     time.Now,
	}
}

// parseEntryPrefix turns an entry address into a prefix: a bare address
// becomes its single-address prefix.
func parseEntryPrefix(address string) (netip.Prefix, error) {
	if strings.Contains(address, "/") {
		p, err := netip.ParsePrefix(address)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Lookup implements threat.ReputationStore. The most specific containing
// prefix wins, so an exact /32 beats a covering /24.
func (s *MemoryReputationStore) Lookup(ctx context.Context, addr netip.Addr) (*threat.ReputationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	var best *threat.ReputationEntry
	bestBits := -1
	for _, e := range s.entries {
		if !e.Active || e.Expired(now) {
			continue
		}
		prefix, err := parseEntryPrefix(e.Address)
		if err != nil || !prefix.Contains(addr) {
			continue
		}
		if prefix.Bits() > bestBits {
			bestBits = prefix.Bits()
			cp := e
			best = &cp
		}
	}
	return best, nil
}

// RecordHit implements threat.ReputationStore.
func (s *MemoryReputationStore) RecordHit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return threat.ErrNotFound
	}
	e.HitCount++
	e.LastHitAt = time.Now().UTC()
	s.entries[id] = e
	return nil
}

// CreateEntry implements threat.ReputationStore.
func (s *MemoryReputationStore) CreateEntry(ctx context.Context, e *threat.ReputationEntry) error {
	if _, err := parseEntryPrefix(e.Address); err != nil {
		return threat.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.entries[e.ID] = *e
	return nil
}

// GetEntry implements threat.ReputationStore.
func (s *MemoryReputationStore) GetEntry(ctx context.Context, id string) (*threat.ReputationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, threat.ErrNotFound
	}
	out := e
	return &out, nil
}

// UpdateEntry implements threat.ReputationStore.
func (s *MemoryReputationStore) UpdateEntry(ctx context.Context, e *threat.ReputationEntry) error {
	if _, err := parseEntryPrefix(e.Address); err != nil {
		return threat.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; !ok {
		return threat.ErrNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	s.entries[e.ID] = *e
	return nil
}

// DeleteEntry implements threat.ReputationStore.
func (s *MemoryReputationStore) DeleteEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return threat.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// ListEntries implements threat.ReputationStore.
func (s *MemoryReputationStore) ListEntries(ctx context.Context, includeInactive bool) ([]*threat.ReputationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*threat.ReputationEntry
	for _, e := range s.entries {
		if !includeInactive && !e.Active {
			continue
		}
		cp := e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryCounterStore provides sliding-window counters in process memory.
type MemoryCounterStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewMemoryCounterStore creates an empty counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{hits: make(map[string][]time.Time), now: time.Now}
}

// Increment implements threat.CounterStore.
func (s *MemoryCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.hits[key] = kept
	return int64(len(kept)), nil
}
