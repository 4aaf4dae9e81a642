package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/telemetry"
)

// ReviewRequest is a human decision on a pending case.
type ReviewRequest struct {
	ReviewerID      string `json:"reviewer_id"`
	Decision        string `json:"decision"` // approve or reject
	Notes           string `json:"notes,omitempty"`
	ModifiedContent string `json:"modified_content,omitempty"`

	// Violation is filled when a rejection should also sanction the author.
	Violation *ReviewViolation `json:"violation,omitempty"`
}

// ReviewViolation describes the sanction a rejecting reviewer attaches.
type ReviewViolation struct {
	Type          ViolationType     `json:"type"`
	Severity      ViolationSeverity `json:"severity"`
	Penalty       PenaltyType       `json:"penalty"`
	DurationHours int               `json:"duration_hours,omitempty"`
	Restrictions  []string          `json:"restrictions,omitempty"`
}

// Validate checks the review against the wire contract.
func (r *ReviewRequest) Validate() error {
	if strings.TrimSpace(r.ReviewerID) == "" {
		return fmt.Errorf("%w: reviewer_id is required", ErrInvalidInput)
	}
	switch r.Decision {
	case DecisionApprove, DecisionReject:
	default:
		return fmt.Errorf("%w: decision must be %q or %q", ErrInvalidInput, DecisionApprove, DecisionReject)
	}
	if r.Violation != nil && r.Decision != DecisionReject {
		return fmt.Errorf("%w: a violation can only accompany a rejection", ErrInvalidInput)
	}
	return nil
}

// Reviewer records human decisions on pending cases. A case is decided at
// most once; the store's compare-and-set surfaces races as
// ErrAlreadyReviewed. The human decision is final: later automatic
// recomputation never overrides it.
type Reviewer struct {
	cases    CaseStore
	enforcer *Enforcer
	log      *zap.Logger
}

// NewReviewer creates a reviewer. enforcer may be nil when the deployment
// does not manage user accounts; rejections then skip violation creation.
func NewReviewer(cases CaseStore, enforcer *Enforcer, log *zap.Logger) *Reviewer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reviewer{cases: cases, enforcer: enforcer, log: log}
}

// Decide applies a human decision to a case.
//
// Approval finalizes the case as approved (serving the reviewer's modified
// content when provided). Rejection finalizes it as rejected and, when the
// request carries a violation, sanctions the author. An enforcement failure
// does not undo the review: the decision and the violation are already
// recorded, and the error tells the caller to retry enforcement.
func (r *Reviewer) Decide(ctx context.Context, caseID string, req ReviewRequest) (*Case, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	review := Review{
		Reviewed:        true,
		ReviewerID:      req.ReviewerID,
		ReviewedAt:      time.Now().UTC(),
		Decision:        req.Decision,
		Notes:           req.Notes,
		ModifiedContent: req.ModifiedContent,
	}

	status := StatusApproved
	action := ActionRecord{
		Type:       ActionApproveContent,
		ExecutedAt: review.ReviewedAt,
		ExecutedBy: req.ReviewerID,
		Detail:     req.Notes,
	}
	if req.Decision == DecisionReject {
		status = StatusRejected
		action.Type = ActionRejectContent
	}

	c, err := r.cases.RecordReview(ctx, caseID, review, status, action)
	if err != nil {
		return nil, err
	}

	telemetry.ReviewsRecorded.WithLabelValues(req.Decision).Inc()
	r.log.Info("case reviewed",
		zap.String("case_id", caseID),
		zap.String("reviewer_id", req.ReviewerID),
		zap.String("decision", req.Decision))

	if req.Decision == DecisionReject && req.Violation != nil && r.enforcer != nil {
		v := &Violation{
			UserID:      c.AuthorID,
			Type:        req.Violation.Type,
			Severity:    req.Violation.Severity,
			Description: req.Notes,
			CaseID:      c.ID,
			HandledBy:   req.ReviewerID,
			Penalty: Penalty{
				Type:          req.Violation.Penalty,
				DurationHours: req.Violation.DurationHours,
				Restrictions:  req.Violation.Restrictions,
			},
		}
		if _, err := r.enforcer.Create(ctx, v); err != nil {
			// The review itself stands; report the enforcement problem.
			return c, err
		}
	}

	return c, nil
}

// AppealRequest is a user's challenge of a case outcome.
type AppealRequest struct {
	Reason string `json:"reason"`
}

// AppealDecision resolves a pending appeal.
type AppealDecision struct {
	ReviewerID string `json:"reviewer_id"`
	Uphold     bool   `json:"uphold"`
	Notes      string `json:"notes,omitempty"`
}

// SubmitAppeal records a user's challenge of a case outcome. Approved cases
// have nothing to appeal, and a case can be appealed at most once.
func (r *Reviewer) SubmitAppeal(ctx context.Context, caseID string, req AppealRequest) (*Case, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: appeal reason is required", ErrInvalidInput)
	}

	c, err := r.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusApproved {
		return nil, fmt.Errorf("%w: approved cases cannot be appealed", ErrInvalidInput)
	}
	if c.Appeal.Appealed {
		return nil, fmt.Errorf("%w: case already appealed", ErrInvalidInput)
	}

	appeal := Appeal{
		Appealed:   true,
		AppealedAt: time.Now().UTC(),
		Reason:     req.Reason,
		Status:     AppealPending,
	}
	c, err = r.cases.SetAppeal(ctx, caseID, appeal, "")
	if err != nil {
		return nil, err
	}
	r.log.Info("appeal submitted", zap.String("case_id", caseID))
	return c, nil
}

// ResolveAppeal decides a pending appeal. Upholding it overturns the case
// to approved and records the reversal in the action log; rejecting it
// leaves the original outcome in place. Either way the appeal is closed.
func (r *Reviewer) ResolveAppeal(ctx context.Context, caseID string, dec AppealDecision) (*Case, error) {
	if strings.TrimSpace(dec.ReviewerID) == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", ErrInvalidInput)
	}

	c, err := r.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.Appeal.Appealed || c.Appeal.Status != AppealPending {
		return nil, fmt.Errorf("%w: case has no pending appeal", ErrInvalidInput)
	}

	now := time.Now().UTC()
	appeal := c.Appeal
	appeal.ReviewedBy = dec.ReviewerID
	appeal.Notes = dec.Notes

	var status Status
	var actions []ActionRecord
	if dec.Uphold {
		appeal.Status = AppealApproved
		status = StatusApproved
		actions = append(actions, ActionRecord{
			Type:       ActionAppealUpheld,
			ExecutedAt: now,
			ExecutedBy: dec.ReviewerID,
			Detail:     dec.Notes,
		})
	} else {
		appeal.Status = AppealRejected
	}

	c, err = r.cases.SetAppeal(ctx, caseID, appeal, status, actions...)
	if err != nil {
		return nil, err
	}
	r.log.Info("appeal resolved",
		zap.String("case_id", caseID),
		zap.String("reviewer_id", dec.ReviewerID),
		zap.Bool("upheld", dec.Uphold))
	return c, nil
}
