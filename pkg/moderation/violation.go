package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/telemetry"
)

// ViolationType classifies why a user was sanctioned.
type ViolationType string

const (
	ViolationInappropriateContent ViolationType = "inappropriate_content"
	ViolationSpam                 ViolationType = "spam"
	ViolationHarassment           ViolationType = "harassment"
	ViolationImpersonation        ViolationType = "impersonation"
	ViolationCopyright            ViolationType = "copyright_violation"
	ViolationTermsBreach          ViolationType = "terms_violation"
	ViolationRepeated             ViolationType = "repeated_violations"
	ViolationOther                ViolationType = "other"
)

// ViolationSeverity grades a violation independently of finding severity.
type ViolationSeverity string

const (
	ViolationMinor    ViolationSeverity = "minor"
	ViolationModerate ViolationSeverity = "moderate"
	ViolationSevere   ViolationSeverity = "severe"
	ViolationCritical ViolationSeverity = "critical"
)

// PenaltyType is the sanction applied to the account.
type PenaltyType string

const (
	PenaltyWarning            PenaltyType = "warning"
	PenaltyContentRemoval     PenaltyType = "content_removal"
	PenaltySuspension         PenaltyType = "temporary_suspension"
	PenaltyPermanentBan       PenaltyType = "permanent_ban"
	PenaltyFeatureRestriction PenaltyType = "feature_restriction"
)

// Violation status values.
const (
	ViolationActive     = "active"
	ViolationResolved   = "resolved"
	ViolationAppealed   = "appealed"
	ViolationOverturned = "overturned"
)

// Penalty describes the sanction attached to a violation. For temporary
// suspensions DurationHours determines the end time; zero hours means the
// sanction does not expire.
type Penalty struct {
	Type          PenaltyType `json:"type"`
	DurationHours int         `json:"duration_hours,omitempty"`
	StartAt       time.Time   `json:"start_at,omitzero"`
	EndAt         *time.Time  `json:"end_at,omitempty"` // nil = does not expire
	Restrictions  []string    `json:"restrictions,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Enforced      bool        `json:"enforced"`
}

// Violation is the record of a user sanction, usually created from a
// rejected moderation case.
type Violation struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        ViolationType     `json:"type"`
	Severity    ViolationSeverity `json:"severity"`
	Description string            `json:"description,omitempty"`
	CaseID      string            `json:"case_id,omitempty"`
	Penalty     Penalty           `json:"penalty"`
	Status      string            `json:"status"`
	Appeal      Appeal            `json:"appeal,omitzero"`
	HandledBy   string            `json:"handled_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Enforcer creates violations and applies their penalties to accounts.
//
// The violation record is persisted before enforcement. If enforcement then
// fails the caller gets the violation together with ErrEnforcementFailed,
// and RetryEnforcement can finish the job later.
type Enforcer struct {
	violations ViolationStore
	accounts   AccountStore
	log        *zap.Logger
}

// NewEnforcer creates an enforcer.
func NewEnforcer(violations ViolationStore, accounts AccountStore, log *zap.Logger) *Enforcer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enforcer{violations: violations, accounts: accounts, log: log}
}

// Create persists a violation and applies its penalty once.
func (e *Enforcer) Create(ctx context.Context, v *Violation) (*Violation, error) {
	if v.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if v.Penalty.Type == "" {
		return nil, fmt.Errorf("%w: penalty type is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	v.ID = uuid.NewString()
	v.Status = ViolationActive
	v.CreatedAt = now
	v.UpdatedAt = now
	v.Penalty.StartAt = now
	v.Penalty.Enforced = false

	if v.Penalty.Type == PenaltySuspension && v.Penalty.DurationHours > 0 {
		end := now.Add(time.Duration(v.Penalty.DurationHours) * time.Hour)
		v.Penalty.EndAt = &end
	}
	// A zero-duration suspension and a permanent ban both leave EndAt nil:
	// the sanction holds until lifted.

	if err := e.violations.CreateViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("persisting violation: %w", err)
	}

	if err := e.apply(ctx, v); err != nil {
		e.log.Error("penalty enforcement failed",
			zap.String("violation_id", v.ID),
			zap.String("user_id", v.UserID),
			zap.String("penalty", string(v.Penalty.Type)),
			zap.Error(err))
		return v, fmt.Errorf("%w: %v", ErrEnforcementFailed, err)
	}

	v.Penalty.Enforced = true
	v.UpdatedAt = time.Now().UTC()
	if err := e.violations.UpdateViolation(ctx, v); err != nil {
		e.log.Warn("violation enforcement flag not persisted",
			zap.String("violation_id", v.ID), zap.Error(err))
	}

	telemetry.PenaltiesApplied.WithLabelValues(string(v.Penalty.Type)).Inc()
	return v, nil
}

// RetryEnforcement re-attempts the account-level penalty for a violation
// whose initial enforcement failed, with exponential backoff.
func (e *Enforcer) RetryEnforcement(ctx context.Context, violationID string) error {
	v, err := e.violations.GetViolation(ctx, violationID)
	if err != nil {
		return err
	}
	if v.Penalty.Enforced {
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(func() error {
		return e.apply(ctx, v)
	}, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrEnforcementFailed, err)
	}

	v.Penalty.Enforced = true
	v.UpdatedAt = time.Now().UTC()
	if err := e.violations.UpdateViolation(ctx, v); err != nil {
		return fmt.Errorf("persisting violation: %w", err)
	}
	telemetry.PenaltiesApplied.WithLabelValues(string(v.Penalty.Type)).Inc()
	return nil
}

// apply executes the account-level effect of a penalty.
func (e *Enforcer) apply(ctx context.Context, v *Violation) error {
	switch v.Penalty.Type {
	case PenaltyWarning:
		return e.accounts.Warn(ctx, v.UserID, v.Description)
	case PenaltyContentRemoval:
		// Removal acts on the content record, handled by the case engine;
		// nothing to do at the account level.
		return nil
	case PenaltySuspension:
		if v.Penalty.EndAt != nil {
			return e.accounts.SuspendUntil(ctx, v.UserID, *v.Penalty.EndAt)
		}
		return e.accounts.Deactivate(ctx, v.UserID)
	case PenaltyPermanentBan:
		return e.accounts.Deactivate(ctx, v.UserID)
	case PenaltyFeatureRestriction:
		return e.accounts.RestrictFeatures(ctx, v.UserID, v.Penalty.Restrictions)
	default:
		return errors.New("unknown penalty type")
	}
}

// AppealViolation records a user's challenge of an active violation.
func (e *Enforcer) AppealViolation(ctx context.Context, violationID, reason string) (*Violation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: appeal reason is required", ErrInvalidInput)
	}
	v, err := e.violations.GetViolation(ctx, violationID)
	if err != nil {
		return nil, err
	}
	if v.Status != ViolationActive {
		return nil, fmt.Errorf("%w: only active violations can be appealed", ErrInvalidInput)
	}

	now := time.Now().UTC()
	v.Status = ViolationAppealed
	v.Appeal = Appeal{
		Appealed:   true,
		AppealedAt: now,
		Reason:     reason,
		Status:     AppealPending,
	}
	v.UpdatedAt = now
	if err := e.violations.UpdateViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("persisting violation: %w", err)
	}
	return v, nil
}

// ResolveViolationAppeal decides a pending violation appeal. Overturning
// marks the violation overturned; otherwise it returns to active and the
// penalty stands. Lifting an already-applied account penalty is an operator
// action outside this record.
func (e *Enforcer) ResolveViolationAppeal(ctx context.Context, violationID, resolvedBy string, overturn bool, notes string) (*Violation, error) {
	if strings.TrimSpace(resolvedBy) == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", ErrInvalidInput)
	}
	v, err := e.violations.GetViolation(ctx, violationID)
	if err != nil {
		return nil, err
	}
	if v.Status != ViolationAppealed || v.Appeal.Status != AppealPending {
		return nil, fmt.Errorf("%w: violation has no pending appeal", ErrInvalidInput)
	}

	v.Appeal.ReviewedBy = resolvedBy
	v.Appeal.Notes = notes
	if overturn {
		v.Appeal.Status = AppealApproved
		v.Status = ViolationOverturned
	} else {
		v.Appeal.Status = AppealRejected
		v.Status = ViolationActive
	}
	v.UpdatedAt = time.Now().UTC()
	if err := e.violations.UpdateViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("persisting violation: %w", err)
	}
	return v, nil
}
