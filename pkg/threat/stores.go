package threat

import (
	"context"
	"net/netip"
	"time"
)

// EventStore persists security events.
type EventStore interface {
	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	UpdateEvent(ctx context.Context, e *Event) error

	// ListEvents returns events newest first, optionally filtered.
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, int, error)
}

// EventFilter narrows event listings. Zero values do not constrain.
type EventFilter struct {
	Type     EventType
	Severity Severity
	Status   EventStatus
	UserID   string
	IP       string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Normalize clamps pagination to sane bounds.
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// RuleStore persists response rules.
type RuleStore interface {
	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id string) error

	// ActiveRules returns active rules for a category ordered by priority
	// descending; ties break on creation time, oldest first.
	ActiveRules(ctx context.Context, category Category) ([]*Rule, error)

	ListRules(ctx context.Context, includeInactive bool) ([]*Rule, error)

	// RecordTrigger atomically bumps trigger (and optionally blocked)
	// counters and the last-trigger timestamp.
	RecordTrigger(ctx context.Context, ruleID string, blocked bool) error
}

// ReputationStore resolves source addresses against the reputation list.
type ReputationStore interface {
	// Lookup returns the active, unexpired entry containing the address,
	// or nil when there is none. Exact entries win over blocks; among
	// blocks the most specific prefix wins.
	Lookup(ctx context.Context, addr netip.Addr) (*ReputationEntry, error)

	// RecordHit bumps an entry's hit counter. Advisory.
	RecordHit(ctx context.Context, id string) error

	CreateEntry(ctx context.Context, e *ReputationEntry) error
	GetEntry(ctx context.Context, id string) (*ReputationEntry, error)
	UpdateEntry(ctx context.Context, e *ReputationEntry) error
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context, includeInactive bool) ([]*ReputationEntry, error)
}

// CounterStore provides sliding-window occurrence counts for rule
// thresholds. Redis-backed in production, in-memory in tests.
type CounterStore interface {
	// Increment bumps the counter for key and returns its value within
	// the window, including this increment.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}
