package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/telemetry"
)

// Action record types written by the engine and the review workflow.
const (
	ActionBlockContent   = "block_content"
	ActionFilterContent  = "filter_content"
	ActionFlagForReview  = "flag_for_review"
	ActionApproveContent = "approve_content"
	ActionRejectContent  = "reject_content"
	ActionAppealUpheld   = "appeal_upheld"
)

// CheckRequest is one content submission to evaluate.
type CheckRequest struct {
	ContentID   string            `json:"content_id"`
	ContentType ContentType       `json:"content_type"`
	AuthorID    string            `json:"author_id"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the request against the wire contract.
func (r *CheckRequest) Validate() error {
	if r.ContentType == "" {
		r.ContentType = ContentCustom
	}
	if !r.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidInput, r.ContentType)
	}
	if strings.TrimSpace(r.AuthorID) == "" {
		return fmt.Errorf("%w: author_id is required", ErrInvalidInput)
	}
	return nil
}

// Engine ties the detector pipeline, redactors and case store together.
type Engine struct {
	cases     CaseStore
	pipeline  *Pipeline
	redactors []Redactor
	log       *zap.Logger
}

// NewEngine creates the moderation engine.
func NewEngine(cases CaseStore, pipeline *Pipeline, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cases: cases, pipeline: pipeline, log: log}
}

// AddRedactor registers a redactor. Redactors run in registration order,
// each over the previous one's output. Nil redactors are ignored.
func (e *Engine) AddRedactor(r Redactor) {
	if r == nil {
		return
	}
	e.redactors = append(e.redactors, r)
}

// Check evaluates one submission end to end: run every detector, aggregate
// findings into a disposition, apply redactions, record the automatic
// action and persist the case.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*Case, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Case{
		ID:              uuid.NewString(),
		ContentID:       req.ContentID,
		ContentType:     req.ContentType,
		AuthorID:        req.AuthorID,
		OriginalContent: req.Content,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	c.Findings = e.pipeline.Run(ctx, Input{
		Content:     req.Content,
		ContentType: req.ContentType,
		AuthorID:    req.AuthorID,
		Metadata:    req.Metadata,
	})
	c.Status, c.Confidence = Disposition(c.Findings)

	// Redactions compose and are kept even when the case is blocked, so a
	// later approval-on-review can still serve the sanitized form.
	processed, changed, err := e.redact(ctx, req.Content)
	if err != nil {
		e.log.Warn("redaction failed", zap.String("case_id", c.ID), zap.Error(err))
	} else if changed {
		c.ProcessedContent = processed
		if c.Status == StatusApproved {
			// Content was altered; consumers must use the processed form.
			c.Status = StatusFiltered
		}
	}

	e.recordAutomaticAction(c, now)

	if err := e.cases.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("persisting case: %w", err)
	}

	telemetry.CasesEvaluated.WithLabelValues(string(c.Status)).Inc()
	e.log.Info("case evaluated",
		zap.String("case_id", c.ID),
		zap.String("author_id", c.AuthorID),
		zap.String("status", string(c.Status)),
		zap.Int("findings", len(c.Findings)))
	return c, nil
}

// Recompute re-runs detection for an existing case, for example after the
// term list changed. A recorded review decision is authoritative: reviewed
// cases are returned untouched.
func (e *Engine) Recompute(ctx context.Context, id string) (*Case, error) {
	c, err := e.cases.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Review.Reviewed {
		return c, nil
	}

	c.Findings = e.pipeline.Run(ctx, Input{
		Content:     c.OriginalContent,
		ContentType: c.ContentType,
		AuthorID:    c.AuthorID,
	})
	prev := c.Status
	c.Status, c.Confidence = Disposition(c.Findings)

	processed, changed, err := e.redact(ctx, c.OriginalContent)
	if err != nil {
		e.log.Warn("redaction failed", zap.String("case_id", c.ID), zap.Error(err))
	} else if changed {
		c.ProcessedContent = processed
		if c.Status == StatusApproved {
			c.Status = StatusFiltered
		}
	} else {
		c.ProcessedContent = ""
	}

	now := time.Now().UTC()
	c.UpdatedAt = now
	if c.Status != prev {
		// Only a real transition earns a new action record, so repeated
		// recomputation stays idempotent.
		e.recordAutomaticAction(c, now)
	}

	if err := e.cases.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("persisting case: %w", err)
	}
	return c, nil
}

func (e *Engine) redact(ctx context.Context, content string) (string, bool, error) {
	changed := false
	for _, r := range e.redactors {
		next, c, err := r.Redact(ctx, content)
		if err != nil {
			return content, changed, err
		}
		if c {
			changed = true
			content = next
		}
	}
	return content, changed, nil
}

func (e *Engine) recordAutomaticAction(c *Case, now time.Time) {
	var action string
	switch c.Status {
	case StatusBlocked:
		action = ActionBlockContent
	case StatusFiltered:
		action = ActionFilterContent
	case StatusPendingReview:
		action = ActionFlagForReview
	default:
		return
	}
	c.Actions = append(c.Actions, ActionRecord{
		Type:       action,
		ExecutedAt: now,
		ExecutedBy: "system",
	})
}

// Disposition folds findings into a case status and aggregate confidence.
//
// The most severe finding wins: critical blocks, high goes to human review,
// medium is filtered, low and none are approved. Confidence is the
// arithmetic mean over all findings. Any detector-failure finding upgrades
// an approved or filtered outcome to pending_review; a block stands.
func Disposition(findings []Finding) (Status, float64) {
	if len(findings) == 0 {
		return StatusApproved, 0
	}

	maxSev := SeverityLow
	sum := 0.0
	systemError := false
	for _, f := range findings {
		maxSev = MaxSeverity(maxSev, f.Severity)
		sum += f.Confidence
		if f.IsSystemError() {
			systemError = true
		}
	}
	confidence := sum / float64(len(findings))

	var status Status
	switch maxSev {
	case SeverityCritical:
		status = StatusBlocked
	case SeverityHigh:
		status = StatusPendingReview
	case SeverityMedium:
		status = StatusFiltered
	default:
		status = StatusApproved
	}

	if systemError && (status == StatusApproved || status == StatusFiltered) {
		status = StatusPendingReview
	}
	return status, confidence
}
