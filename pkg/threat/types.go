// Package threat implements security-event triage: risk scoring, IP
// reputation, and rule-driven automatic responses.
package threat

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an event, rule or reputation entry
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

// EventType identifies what kind of activity was observed.
type EventType string

const (
	EventLoginAttempt       EventType = "login_attempt"
	EventLoginFailure       EventType = "login_failure"
	EventBruteForce         EventType = "brute_force"
	EventSQLInjection       EventType = "sql_injection"
	EventXSSAttempt         EventType = "xss_attempt"
	EventDDoSAttempt        EventType = "ddos_attempt"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventOther              EventType = "other"
)

var validEventTypes = map[EventType]bool{
	EventLoginAttempt:       true,
	EventLoginFailure:       true,
	EventBruteForce:         true,
	EventSQLInjection:       true,
	EventXSSAttempt:         true,
	EventDDoSAttempt:        true,
	EventUnauthorizedAccess: true,
	EventSuspiciousActivity: true,
	EventOther:              true,
}

// Valid reports whether the event type is one of the accepted values.
func (t EventType) Valid() bool { return validEventTypes[t] }

// Severity grades a security event. Unlike content findings, events can be
// purely informational.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventStatus tracks the investigation lifecycle of an event.
type EventStatus string

const (
	StatusDetected      EventStatus = "detected"
	StatusInvestigating EventStatus = "investigating"
	StatusResolved      EventStatus = "resolved"
	StatusFalsePositive EventStatus = "false_positive"
	StatusIgnored       EventStatus = "ignored"
)

// ResponseAction is an automatic countermeasure a rule can order.
type ResponseAction string

const (
	ActionAllow     ResponseAction = "allow"
	ActionBlock     ResponseAction = "block"
	ActionChallenge ResponseAction = "challenge"
	ActionLogOnly   ResponseAction = "log_only"
	ActionRateLimit ResponseAction = "rate_limit"
	ActionCaptcha   ResponseAction = "captcha"
)

var validActions = map[ResponseAction]bool{
	ActionAllow:     true,
	ActionBlock:     true,
	ActionChallenge: true,
	ActionLogOnly:   true,
	ActionRateLimit: true,
	ActionCaptcha:   true,
}

// Valid reports whether the action is one of the accepted values.
func (a ResponseAction) Valid() bool { return validActions[a] }

// Category groups events into the threat families rules are keyed on.
type Category string

const (
	CategoryBruteForce      Category = "brute_force"
	CategoryDDoS            Category = "ddos"
	CategorySQLInjection    Category = "sql_injection"
	CategoryXSS             Category = "xss"
	CategorySuspiciousLogin Category = "suspicious_login"
	CategoryDataScraping    Category = "data_scraping"
	CategorySpamBot         Category = "spam_bot"
)

// CategoryFor maps an event type to the rule category it is triaged under.
func CategoryFor(t EventType) Category {
	switch t {
	case EventLoginFailure, EventBruteForce:
		return CategoryBruteForce
	case EventSQLInjection:
		return CategorySQLInjection
	case EventXSSAttempt:
		return CategoryXSS
	case EventDDoSAttempt:
		return CategoryDDoS
	default:
		return CategorySuspiciousLogin
	}
}

// Network describes where an event came from.
type Network struct {
	IPAddress string `json:"ip_address"`
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
	City      string `json:"city,omitempty"`
}

// RequestSnapshot captures the HTTP request tied to an event, when there
// was one.
type RequestSnapshot struct {
	Method    string            `json:"method,omitempty"`
	Path      string            `json:"path,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Referer   string            `json:"referer,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
}

// ActionResult records the outcome of one executed response action.
type ActionResult struct {
	Action     ResponseAction `json:"action"`
	Executed   bool           `json:"executed"`
	Blocked    bool           `json:"blocked"`
	Detail     string         `json:"detail,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// Investigation tracks manual follow-up on an event.
type Investigation struct {
	AssigneeID string     `json:"assignee_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Event is the unit of record for one security observation.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	RiskScore     int             `json:"risk_score"` // 0-100
	Severity      Severity        `json:"severity"`
	Status        EventStatus     `json:"status"`
	UserID        string          `json:"user_id,omitempty"`
	Network       Network         `json:"network"`
	Request       RequestSnapshot `json:"request,omitzero"`
	Signatures    []string        `json:"signatures,omitempty"` // Attack patterns matched in the payload
	Flags         []string        `json:"flags,omitempty"`      // Behavioral flags supplied by the caller
	Responses     []ActionResult  `json:"responses,omitempty"`
	Investigation Investigation   `json:"investigation,omitzero"`
	RuleID        string          `json:"rule_id,omitempty"` // Rule that drove the automatic response
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Behavioral flag values recognized by rule conditions.
const (
	FlagNewUser         = "new_user"
	FlagFailedLogins    = "multiple_failed_logins"
	FlagUnusualLocation = "unusual_location"
	FlagSuspicious      = "suspicious_activity"
)

// RuleStats aggregates how a rule has performed.
type RuleStats struct {
	Triggered       int64     `json:"triggered"`
	Blocked         int64     `json:"blocked"`
	FalsePositives  int64     `json:"false_positives"`
	LastTriggeredAt time.Time `json:"last_triggered_at,omitzero"`
}

// RuleConditions narrow when a rule fires. Empty fields do not constrain.
type RuleConditions struct {
	// TimeWindow and ThresholdCount together require the rule key (rule +
	// source IP) to have been seen at least ThresholdCount times inside
	// the window.
	TimeWindow     time.Duration `json:"time_window,omitempty"`
	ThresholdCount int           `json:"threshold_count,omitempty"`

	IPAddresses  []string `json:"ip_addresses,omitempty"`  // Exact IPs or CIDR blocks
	Methods      []string `json:"methods,omitempty"`       // HTTP methods
	PathPatterns []string `json:"path_patterns,omitempty"` // Regexes over the request path
	UserAgents   []string `json:"user_agents,omitempty"`   // Regexes over the user agent

	AllowCountries []string `json:"allow_countries,omitempty"` // Rule only fires outside these
	DenyCountries  []string `json:"deny_countries,omitempty"`  // Rule only fires inside these

	RequiredFlags []string `json:"required_flags,omitempty"` // All must be present on the event
}

// Rule drives an automatic response for a threat category.
type Rule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Category    Category         `json:"category"`
	Priority    int              `json:"priority"` // Higher fires first
	Conditions  RuleConditions   `json:"conditions,omitzero"`
	Actions     []ResponseAction `json:"actions"`
	Active      bool             `json:"active"`
	Stats       RuleStats        `json:"stats,omitzero"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ThreatLevel grades a reputation entry.
type ThreatLevel string

const (
	LevelLow      ThreatLevel = "low"
	LevelMedium   ThreatLevel = "medium"
	LevelHigh     ThreatLevel = "high"
	LevelCritical ThreatLevel = "critical"
)

// ReputationEntry marks an address or block as hostile. Address holds
// either a single IP or a CIDR block; containment is exact, computed over
// the parsed prefix.
type ReputationEntry struct {
	ID          string      `json:"id"`
	Address     string      `json:"address"` // "203.0.113.7" or "203.0.113.0/24"
	ThreatLevel ThreatLevel `json:"threat_level"`
	Source      string      `json:"source,omitempty"` // manual, feed, automated
	Reason      string      `json:"reason,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"` // nil = permanent
	Active      bool        `json:"active"`
	HitCount    int64       `json:"hit_count"`
	LastHitAt   time.Time   `json:"last_hit_at,omitzero"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Expired reports whether the entry has lapsed at the given instant.
func (e *ReputationEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}
