package moderation

import (
	"context"
	"time"
)

// TermStore provides the configured sensitive terms.
type TermStore interface {
	// ActiveTerms returns all terms currently in force.
	ActiveTerms(ctx context.Context) ([]Term, error)

	// RecordHit bumps a term's hit counter. Hit recording is advisory;
	// callers ignore its error beyond logging.
	RecordHit(ctx context.Context, termID string) error

	CreateTerm(ctx context.Context, t *Term) error
	UpdateTerm(ctx context.Context, t *Term) error
	GetTerm(ctx context.Context, id string) (*Term, error)
	ListTerms(ctx context.Context, category string, includeInactive bool) ([]Term, error)
	DeleteTerm(ctx context.Context, id string) error
}

// CaseStore persists moderation cases.
type CaseStore interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)

	// UpdateCase persists automatic state. Implementations must refuse to
	// overwrite a case whose review decision has already been recorded.
	UpdateCase(ctx context.Context, c *Case) error

	// RecordReview sets the review decision and final status exactly once,
	// appending the decision's action record. A second call for the same
	// case returns ErrAlreadyReviewed.
	RecordReview(ctx context.Context, id string, review Review, status Status, action ActionRecord) (*Case, error)

	// SetAppeal replaces the case's appeal sub-record. A non-empty status
	// also moves the case (an upheld appeal overturns the outcome) and
	// any actions are appended to the log. Unlike UpdateCase this works
	// on reviewed cases: appeals are the one path that revisits a decided
	// case.
	SetAppeal(ctx context.Context, id string, appeal Appeal, status Status, actions ...ActionRecord) (*Case, error)

	// ListPending returns pending_review cases ordered oldest first.
	ListPending(ctx context.Context, opts ListOptions) ([]*Case, int, error)

	// ListByAuthor returns an author's cases, newest first.
	ListByAuthor(ctx context.Context, authorID string, opts ListOptions) ([]*Case, int, error)
}

// ListOptions carries pagination for list queries.
type ListOptions struct {
	Limit  int
	Offset int

	// ContentType and MinSeverity narrow the pending queue; zero values do
	// not constrain and listings other than ListPending ignore them.
	// MinSeverity keeps cases with at least one finding at or above it.
	ContentType ContentType
	MinSeverity Severity
}

// Normalize clamps pagination to sane bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 || o.Limit > 200 {
		o.Limit = 50
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// HistoryStore tracks recent content per author to spot repeats.
type HistoryStore interface {
	// RecordContent registers content for an author and returns how many
	// times this exact content has been seen from them inside the window,
	// including this occurrence.
	RecordContent(ctx context.Context, authorID, content string, window time.Duration) (int, error)
}

// ViolationStore persists user violations.
type ViolationStore interface {
	CreateViolation(ctx context.Context, v *Violation) error
	GetViolation(ctx context.Context, id string) (*Violation, error)
	UpdateViolation(ctx context.Context, v *Violation) error
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Violation, int, error)
	ListViolations(ctx context.Context, opts ListOptions) ([]*Violation, int, error)
}

// AccountStore applies penalties to user accounts. In production this is
// backed by the account service's tables; tests use the in-memory store.
type AccountStore interface {
	SuspendUntil(ctx context.Context, userID string, until time.Time) error
	Deactivate(ctx context.Context, userID string) error
	RestrictFeatures(ctx context.Context, userID string, features []string) error
	Warn(ctx context.Context, userID, message string) error
}
