// Package moderation implements the content moderation pipeline: detectors,
// severity aggregation, dispositions, human review and user penalties.
package moderation

import (
	"time"
)

// ContentType identifies what kind of content a case covers.
type ContentType string

const (
	ContentMessage              ContentType = "message"
	ContentCharacterName        ContentType = "character_name"
	ContentCharacterDescription ContentType = "character_description"
	ContentKnowledgeItem        ContentType = "knowledge_item"
	ContentUserProfile          ContentType = "user_profile"
	ContentCustom               ContentType = "custom"
)

// validContentTypes is the closed set accepted on the wire.
var validContentTypes = map[ContentType]bool{
	ContentMessage:              true,
	ContentCharacterName:        true,
	ContentCharacterDescription: true,
	ContentKnowledgeItem:        true,
	ContentUserProfile:          true,
	ContentCustom:               true,
}

// Valid reports whether the content type is one of the accepted values.
func (c ContentType) Valid() bool { return validContentTypes[c] }

// Status is the disposition of a moderation case.
type Status string

const (
	StatusApproved      Status = "approved"
	StatusFiltered      Status = "filtered"
	StatusBlocked       Status = "blocked"
	StatusPendingReview Status = "pending_review"
	StatusRejected      Status = "rejected"
)

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal of a severity; unknown severities rank below low.
func (s Severity) Rank() int { return severityRank[s] }

// MaxSeverity returns the more severe of the two.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// FindingKind classifies what a detector found.
type FindingKind string

const (
	FindingSensitiveWord        FindingKind = "sensitive_word"
	FindingSpam                 FindingKind = "spam"
	FindingPersonalInfo         FindingKind = "personal_info"
	FindingInappropriateContent FindingKind = "inappropriate_content"
	FindingViolence             FindingKind = "violence"
	FindingSexualContent        FindingKind = "sexual_content"
	FindingHarassment           FindingKind = "harassment"
	FindingHateSpeech           FindingKind = "hate_speech"
	FindingCustom               FindingKind = "custom"
)

// systemCategory is the evidence category reserved for synthetic findings
// from failed detector runs. They bias the case toward human review
// instead of silently approving.
const systemCategory = "system"

// IsSystemError reports whether the finding marks a detector failure
// rather than a real content match.
func (f Finding) IsSystemError() bool {
	return f.Kind == FindingCustom && f.Evidence.Category == systemCategory
}

// Evidence carries the concrete material behind a finding.
type Evidence struct {
	Matches  []string `json:"matches,omitempty"`  // Matched substrings or term patterns
	Category string   `json:"category,omitempty"` // Detector-specific category (e.g. "email", "profanity")
	Detail   string   `json:"detail,omitempty"`   // Free-form context for reviewers
}

// Finding is a single detector observation about a piece of content.
type Finding struct {
	Kind       FindingKind `json:"kind"`
	Severity   Severity    `json:"severity"`
	Confidence float64     `json:"confidence"` // 0.0 - 1.0
	Detector   string      `json:"detector,omitempty"`
	Evidence   Evidence    `json:"evidence,omitzero"`
}

// ActionRecord logs an automatic or manual action taken on a case.
type ActionRecord struct {
	Type       string    `json:"type"` // block_content, filter_content, flag_for_review, ...
	ExecutedAt time.Time `json:"executed_at"`
	ExecutedBy string    `json:"executed_by"` // "system" or a reviewer ID
	Detail     string    `json:"detail,omitempty"`
}

// Review decision values.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Review records the single authoritative human decision on a case.
type Review struct {
	Reviewed        bool      `json:"reviewed"`
	ReviewerID      string    `json:"reviewer_id,omitempty"`
	ReviewedAt      time.Time `json:"reviewed_at,omitzero"`
	Decision        string    `json:"decision,omitempty"` // approve or reject
	Notes           string    `json:"notes,omitempty"`
	ModifiedContent string    `json:"modified_content,omitempty"`
}

// Appeal status values.
const (
	AppealPending  = "pending"
	AppealApproved = "approved"
	AppealRejected = "rejected"
)

// Appeal tracks a user's challenge of a case outcome or a violation.
type Appeal struct {
	Appealed   bool      `json:"appealed"`
	AppealedAt time.Time `json:"appealed_at,omitzero"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status,omitempty"` // pending, approved, rejected
	ReviewedBy string    `json:"reviewed_by,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Case is the unit of record for one moderation evaluation.
type Case struct {
	ID               string         `json:"id"`
	ContentID        string         `json:"content_id"`
	ContentType      ContentType    `json:"content_type"`
	AuthorID         string         `json:"author_id"`
	OriginalContent  string         `json:"original_content"`
	ProcessedContent string         `json:"processed_content,omitempty"` // Redacted form, set when filtering applied
	Findings         []Finding      `json:"findings"`
	Status           Status         `json:"status"`
	Confidence       float64        `json:"confidence"`
	Review           Review         `json:"review,omitzero"`
	Actions          []ActionRecord `json:"actions,omitempty"`
	Appeal           Appeal         `json:"appeal,omitzero"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Allowed reports whether content with this disposition may be shown.
// Filtered content is shown in its processed form.
func (c *Case) Allowed() bool {
	return c.Status == StatusApproved || c.Status == StatusFiltered
}

// DisplayContent returns what downstream consumers should render: the
// redacted form when one exists, otherwise the original.
func (c *Case) DisplayContent() string {
	if c.ProcessedContent != "" {
		return c.ProcessedContent
	}
	return c.OriginalContent
}

// TermAction is the configured response when a sensitive term matches.
type TermAction string

const (
	TermWarn   TermAction = "warn"
	TermFilter TermAction = "filter"
	TermBlock  TermAction = "block"
	TermReview TermAction = "review"
)

// Term categories roughly follow the taxonomy reviewers use to file terms.
const (
	TermCategoryProfanity      = "profanity"
	TermCategoryViolence       = "violence"
	TermCategorySexual         = "sexual"
	TermCategoryPolitical      = "political"
	TermCategoryReligious      = "religious"
	TermCategoryDiscrimination = "discrimination"
	TermCategoryHarassment     = "harassment"
	TermCategorySpam           = "spam"
	TermCategoryCustom         = "custom"
)

// Term is a configured sensitive term: a literal word or a regex, with the
// severity and action to apply when it matches.
type Term struct {
	ID          string     `json:"id"`
	Pattern     string     `json:"pattern"`
	IsRegex     bool       `json:"is_regex"`
	Category    string     `json:"category"`
	Severity    Severity   `json:"severity"`
	Action      TermAction `json:"action"`
	Replacement string     `json:"replacement,omitempty"` // Used when Action is filter; defaults to "***"
	Language    string     `json:"language,omitempty"`
	Active      bool       `json:"active"`
	HitCount    int64      `json:"hit_count"`
	LastHitAt   time.Time  `json:"last_hit_at,omitzero"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// findingKindForTermCategory maps a term's category to the finding kind
// reported when it matches.
func findingKindForTermCategory(category string) FindingKind {
	switch category {
	case TermCategoryViolence:
		return FindingViolence
	case TermCategorySexual:
		return FindingSexualContent
	case TermCategoryHarassment:
		return FindingHarassment
	case TermCategoryDiscrimination:
		return FindingHateSpeech
	case TermCategorySpam:
		return FindingSpam
	default:
		return FindingSensitiveWord
	}
}
