package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigilant-labs/vigil/pkg/moderation"
	"github.com/vigilant-labs/vigil/pkg/threat"
)

// schema is applied idempotently at startup. Deployments with managed
// migrations can skip EnsureSchema.
const schema = `
CREATE TABLE IF NOT EXISTS moderation_terms (
	id           UUID PRIMARY KEY,
	pattern      TEXT NOT NULL,
	is_regex     BOOLEAN NOT NULL DEFAULT FALSE,
	category     TEXT NOT NULL,
	severity     TEXT NOT NULL,
	action       TEXT NOT NULL,
	replacement  TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	hit_count    BIGINT NOT NULL DEFAULT 0,
	last_hit_at  TIMESTAMPTZ,
	created_by   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_terms_active ON moderation_terms (active) WHERE active;

CREATE TABLE IF NOT EXISTS moderation_cases (
	id                 UUID PRIMARY KEY,
	content_id         TEXT NOT NULL DEFAULT '',
	content_type       TEXT NOT NULL,
	author_id          TEXT NOT NULL,
	original_content   TEXT NOT NULL,
	processed_content  TEXT NOT NULL DEFAULT '',
	findings           JSONB NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	reviewed           BOOLEAN NOT NULL DEFAULT FALSE,
	review             JSONB NOT NULL DEFAULT '{}',
	actions            JSONB NOT NULL DEFAULT '[]',
	appeal             JSONB NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cases_status ON moderation_cases (status, created_at);
CREATE INDEX IF NOT EXISTS idx_cases_author ON moderation_cases (author_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_violations (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	case_id     TEXT NOT NULL DEFAULT '',
	penalty     JSONB NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	appeal      JSONB NOT NULL DEFAULT '{}',
	handled_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_violations_user ON user_violations (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS security_events (
	id            UUID PRIMARY KEY,
	type          TEXT NOT NULL,
	risk_score    INT NOT NULL,
	severity      TEXT NOT NULL,
	status        TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	network       JSONB NOT NULL DEFAULT '{}',
	request       JSONB NOT NULL DEFAULT '{}',
	signatures    TEXT[] NOT NULL DEFAULT '{}',
	flags         TEXT[] NOT NULL DEFAULT '{}',
	responses     JSONB NOT NULL DEFAULT '[]',
	investigation JSONB NOT NULL DEFAULT '{}',
	rule_id       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON security_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_severity ON security_events (severity, created_at DESC);

CREATE TABLE IF NOT EXISTS threat_rules (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	priority          INT NOT NULL DEFAULT 0,
	conditions        JSONB NOT NULL DEFAULT '{}',
	actions           TEXT[] NOT NULL DEFAULT '{}',
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	triggered         BIGINT NOT NULL DEFAULT 0,
	blocked           BIGINT NOT NULL DEFAULT 0,
	false_positives   BIGINT NOT NULL DEFAULT 0,
	last_triggered_at TIMESTAMPTZ,
	created_by        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_category ON threat_rules (category, priority DESC) WHERE active;

CREATE TABLE IF NOT EXISTS ip_reputation (
	id           UUID PRIMARY KEY,
	network      CIDR NOT NULL,
	threat_level TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	expires_at   TIMESTAMPTZ,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	hit_count    BIGINT NOT NULL DEFAULT 0,
	last_hit_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reputation_network ON ip_reputation USING gist (network inet_ops);
`

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies the schema idempotently.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// nullTime maps zero times to NULL and back.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// PGTermStore implements moderation.TermStore on Postgres.
type PGTermStore struct {
	pool *pgxpool.Pool
}

// NewPGTermStore creates a term store on an existing pool.
func NewPGTermStore(pool *pgxpool.Pool) *PGTermStore {
	return &PGTermStore{pool: pool}
}

const termColumns = `id, pattern, is_regex, category, severity, action, replacement, language,
	active, hit_count, last_hit_at, created_by, created_at, updated_at`

func scanTerm(row pgx.Row) (*moderation.Term, error) {
	var t moderation.Term
	var lastHit *time.Time
	err := row.Scan(&t.ID, &t.Pattern, &t.IsRegex, &t.Category, &t.Severity, &t.Action,
		&t.Replacement, &t.Language, &t.Active, &t.HitCount, &lastHit, &t.CreatedBy,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, moderation.ErrNotFound
		}
		return nil, err
	}
	t.LastHitAt = fromNullTime(lastHit)
	return &t, nil
}

func (s *PGTermStore) queryTerms(ctx context.Context, query string, args ...any) ([]moderation.Term, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []moderation.Term
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ActiveTerms implements moderation.TermStore.
func (s *PGTermStore) ActiveTerms(ctx context.Context) ([]moderation.Term, error) {
	return s.queryTerms(ctx,
		`SELECT `+termColumns+` FROM moderation_terms WHERE active ORDER BY id`)
}

// RecordHit implements moderation.TermStore.
func (s *PGTermStore) RecordHit(ctx context.Context, termID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE moderation_terms SET hit_count = hit_count + 1, last_hit_at = now() WHERE id = $1`,
		termID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

// CreateTerm implements moderation.TermStore.
func (s *PGTermStore) CreateTerm(ctx context.Context, t *moderation.Term) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moderation_terms (`+termColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.Pattern, t.IsRegex, t.Category, t.Severity, t.Action, t.Replacement,
		t.Language, t.Active, t.HitCount, nullTime(t.LastHitAt), t.CreatedBy,
		t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTerm implements moderation.TermStore.
func (s *PGTermStore) UpdateTerm(ctx context.Context, t *moderation.Term) error {
	t.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE moderation_terms SET pattern=$2, is_regex=$3, category=$4, severity=$5,
		 action=$6, replacement=$7, language=$8, active=$9, updated_at=$10 WHERE id=$1`,
		t.ID, t.Pattern, t.IsRegex, t.Category, t.Severity, t.Action, t.Replacement,
		t.Language, t.Active, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

// GetTerm implements moderation.TermStore.
func (s *PGTermStore) GetTerm(ctx context.Context, id string) (*moderation.Term, error) {
	return scanTerm(s.pool.QueryRow(ctx,
		`SELECT `+termColumns+` FROM moderation_terms WHERE id = $1`, id))
}

// ListTerms implements moderation.TermStore.
func (s *PGTermStore) ListTerms(ctx context.Context, category string, includeInactive bool) ([]moderation.Term, error) {
	return s.queryTerms(ctx,
		`SELECT `+termColumns+` FROM moderation_terms
		 WHERE ($1 = '' OR category = $1) AND ($2 OR active) ORDER BY id`,
		category, includeInactive)
}

// DeleteTerm implements moderation.TermStore.
func (s *PGTermStore) DeleteTerm(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM moderation_terms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

// PGCaseStore implements moderation.CaseStore on Postgres.
type PGCaseStore struct {
	pool *pgxpool.Pool
}

// NewPGCaseStore creates a case store on an existing pool.
func NewPGCaseStore(pool *pgxpool.Pool) *PGCaseStore {
	return &PGCaseStore{pool: pool}
}

const caseColumns = `id, content_id, content_type, author_id, original_content, processed_content,
	findings, status, confidence, review, actions, appeal, created_at, updated_at`

func scanCase(row pgx.Row) (*moderation.Case, error) {
	var c moderation.Case
	var findings, review, actions, appeal []byte
	err := row.Scan(&c.ID, &c.ContentID, &c.ContentType, &c.AuthorID, &c.OriginalContent,
		&c.ProcessedContent, &findings, &c.Status, &c.Confidence, &review, &actions,
		&appeal, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, moderation.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(findings, &c.Findings); err != nil {
		return nil, fmt.Errorf("decoding findings: %w", err)
	}
	if err := json.Unmarshal(review, &c.Review); err != nil {
		return nil, fmt.Errorf("decoding review: %w", err)
	}
	if err := json.Unmarshal(actions, &c.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions: %w", err)
	}
	if err := json.Unmarshal(appeal, &c.Appeal); err != nil {
		return nil, fmt.Errorf("decoding appeal: %w", err)
	}
	return &c, nil
}

func caseJSON(c *moderation.Case) (findings, review, actions, appeal []byte, err error) {
	if findings, err = json.Marshal(c.Findings); err != nil {
		return
	}
	if review, err = json.Marshal(c.Review); err != nil {
		return
	}
	if actions, err = json.Marshal(c.Actions); err != nil {
		return
	}
	appeal, err = json.Marshal(c.Appeal)
	return
}

// CreateCase implements moderation.CaseStore.
func (s *PGCaseStore) CreateCase(ctx context.Context, c *moderation.Case) error {
	findings, review, actions, appeal, err := caseJSON(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO moderation_cases (id, content_id, content_type, author_id, original_content,
		 processed_content, findings, status, confidence, reviewed, review, actions, appeal,
		 created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		c.ID, c.ContentID, c.ContentType, c.AuthorID, c.OriginalContent, c.ProcessedContent,
		findings, c.Status, c.Confidence, c.Review.Reviewed, review, actions, appeal,
		c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCase implements moderation.CaseStore.
func (s *PGCaseStore) GetCase(ctx context.Context, id string) (*moderation.Case, error) {
	return scanCase(s.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM moderation_cases WHERE id = $1`, id))
}

// UpdateCase implements moderation.CaseStore. The reviewed guard keeps
// automatic recomputation from clobbering a human decision.
func (s *PGCaseStore) UpdateCase(ctx context.Context, c *moderation.Case) error {
	findings, review, actions, appeal, err := caseJSON(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE moderation_cases SET processed_content=$2, findings=$3, status=$4,
		 confidence=$5, review=$6, actions=$7, appeal=$8, updated_at=$9
		 WHERE id = $1 AND NOT reviewed`,
		c.ID, c.ProcessedContent, findings, c.Status, c.Confidence, review, actions,
		appeal, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing case from one already decided.
		var reviewed bool
		err := s.pool.QueryRow(ctx,
			`SELECT reviewed FROM moderation_cases WHERE id = $1`, c.ID).Scan(&reviewed)
		if errors.Is(err, pgx.ErrNoRows) {
			return moderation.ErrNotFound
		}
		if err != nil {
			return err
		}
		return moderation.ErrAlreadyReviewed
	}
	return nil
}

// RecordReview implements moderation.CaseStore. The WHERE NOT reviewed
// clause is the compare-and-set: concurrent reviewers race on it and
// exactly one update lands.
func (s *PGCaseStore) RecordReview(ctx context.Context, id string, review moderation.Review, status moderation.Status, action moderation.ActionRecord) (*moderation.Case, error) {
	reviewJSON, err := json.Marshal(review)
	if err != nil {
		return nil, err
	}
	actionJSON, err := json.Marshal([]moderation.ActionRecord{action})
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE moderation_cases
		 SET reviewed = TRUE, review = $2, status = $3, actions = actions || $4::jsonb, updated_at = now()
		 WHERE id = $1 AND NOT reviewed`,
		id, reviewJSON, status, actionJSON)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var reviewed bool
		err := s.pool.QueryRow(ctx,
			`SELECT reviewed FROM moderation_cases WHERE id = $1`, id).Scan(&reviewed)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, moderation.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, moderation.ErrAlreadyReviewed
	}
	return s.GetCase(ctx, id)
}

// SetAppeal implements moderation.CaseStore. Appeals may touch reviewed
// cases; a non-empty status records an overturned outcome.
func (s *PGCaseStore) SetAppeal(ctx context.Context, id string, appeal moderation.Appeal, status moderation.Status, actions ...moderation.ActionRecord) (*moderation.Case, error) {
	appealJSON, err := json.Marshal(appeal)
	if err != nil {
		return nil, err
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE moderation_cases
		 SET appeal = $2,
		     status = CASE WHEN $3 = '' THEN status ELSE $3 END,
		     actions = actions || $4::jsonb,
		     updated_at = now()
		 WHERE id = $1`,
		id, appealJSON, string(status), actionsJSON)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, moderation.ErrNotFound
	}
	return s.GetCase(ctx, id)
}

func (s *PGCaseStore) queryCases(ctx context.Context, query string, args ...any) ([]*moderation.Case, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*moderation.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPending implements moderation.CaseStore.
func (s *PGCaseStore) ListPending(ctx context.Context, opts moderation.ListOptions) ([]*moderation.Case, int, error) {
	opts = opts.Normalize()

	where := ` WHERE status = $1 AND ($2 = '' OR content_type = $2)
		AND ($3::text[] IS NULL OR EXISTS (
			SELECT 1 FROM jsonb_array_elements(findings) f
			WHERE f->>'severity' = ANY($3)))`
	args := []any{moderation.StatusPendingReview, string(opts.ContentType), severitiesAtLeast(opts.MinSeverity)}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM moderation_cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	cases, err := s.queryCases(ctx,
		`SELECT `+caseColumns+` FROM moderation_cases`+where+
			` ORDER BY created_at ASC LIMIT $4 OFFSET $5`,
		append(args, opts.Limit, opts.Offset)...)
	return cases, total, err
}

// severitiesAtLeast expands a minimum severity into the names at or above
// it, nil when unconstrained.
func severitiesAtLeast(min moderation.Severity) []string {
	if min == "" {
		return nil
	}
	var out []string
	for _, s := range []moderation.Severity{
		moderation.SeverityLow, moderation.SeverityMedium,
		moderation.SeverityHigh, moderation.SeverityCritical,
	} {
		if s.Rank() >= min.Rank() {
			out = append(out, string(s))
		}
	}
	return out
}

// ListByAuthor implements moderation.CaseStore.
func (s *PGCaseStore) ListByAuthor(ctx context.Context, authorID string, opts moderation.ListOptions) ([]*moderation.Case, int, error) {
	opts = opts.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM moderation_cases WHERE author_id = $1`, authorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	cases, err := s.queryCases(ctx,
		`SELECT `+caseColumns+` FROM moderation_cases WHERE author_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		authorID, opts.Limit, opts.Offset)
	return cases, total, err
}

// PGViolationStore implements moderation.ViolationStore on Postgres.
type PGViolationStore struct {
	pool *pgxpool.Pool
}

// NewPGViolationStore creates a violation store on an existing pool.
func NewPGViolationStore(pool *pgxpool.Pool) *PGViolationStore {
	return &PGViolationStore{pool: pool}
}

const violationColumns = `id, user_id, type, severity, description, case_id, penalty, status,
	appeal, handled_by, created_at, updated_at`

func scanViolation(row pgx.Row) (*moderation.Violation, error) {
	var v moderation.Violation
	var penalty, appeal []byte
	err := row.Scan(&v.ID, &v.UserID, &v.Type, &v.Severity, &v.Description, &v.CaseID,
		&penalty, &v.Status, &appeal, &v.HandledBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, moderation.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(penalty, &v.Penalty); err != nil {
		return nil, fmt.Errorf("decoding penalty: %w", err)
	}
	if err := json.Unmarshal(appeal, &v.Appeal); err != nil {
		return nil, fmt.Errorf("decoding appeal: %w", err)
	}
	return &v, nil
}

// CreateViolation implements moderation.ViolationStore.
func (s *PGViolationStore) CreateViolation(ctx context.Context, v *moderation.Violation) error {
	penalty, err := json.Marshal(v.Penalty)
	if err != nil {
		return err
	}
	appeal, err := json.Marshal(v.Appeal)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_violations (`+violationColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		v.ID, v.UserID, v.Type, v.Severity, v.Description, v.CaseID, penalty, v.Status,
		appeal, v.HandledBy, v.CreatedAt, v.UpdatedAt)
	return err
}

// GetViolation implements moderation.ViolationStore.
func (s *PGViolationStore) GetViolation(ctx context.Context, id string) (*moderation.Violation, error) {
	return scanViolation(s.pool.QueryRow(ctx,
		`SELECT `+violationColumns+` FROM user_violations WHERE id = $1`, id))
}

// UpdateViolation implements moderation.ViolationStore.
func (s *PGViolationStore) UpdateViolation(ctx context.Context, v *moderation.Violation) error {
	penalty, err := json.Marshal(v.Penalty)
	if err != nil {
		return err
	}
	appeal, err := json.Marshal(v.Appeal)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_violations SET penalty=$2, status=$3, appeal=$4, updated_at=$5 WHERE id=$1`,
		v.ID, penalty, v.Status, appeal, v.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return moderation.ErrNotFound
	}
	return nil
}

// ListByUser implements moderation.ViolationStore.
func (s *PGViolationStore) ListByUser(ctx context.Context, userID string, opts moderation.ListOptions) ([]*moderation.Violation, int, error) {
	opts = opts.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM user_violations WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+violationColumns+` FROM user_violations WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*moderation.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// ListViolations implements moderation.ViolationStore.
func (s *PGViolationStore) ListViolations(ctx context.Context, opts moderation.ListOptions) ([]*moderation.Violation, int, error) {
	opts = opts.Normalize()
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM user_violations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+violationColumns+` FROM user_violations
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*moderation.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// PGEventStore implements threat.EventStore on Postgres.
type PGEventStore struct {
	pool *pgxpool.Pool
}

// NewPGEventStore creates an event store on an existing pool.
func NewPGEventStore(pool *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{pool: pool}
}

const eventColumns = `id, type, risk_score, severity, status, user_id, network, request,
	signatures, flags, responses, investigation, rule_id, created_at, updated_at`

func scanEvent(row pgx.Row) (*threat.Event, error) {
	var e threat.Event
	var network, request, responses, investigation []byte
	err := row.Scan(&e.ID, &e.Type, &e.RiskScore, &e.Severity, &e.Status, &e.UserID,
		&network, &request, &e.Signatures, &e.Flags, &responses, &investigation,
		&e.RuleID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, threat.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(network, &e.Network); err != nil {
		return nil, fmt.Errorf("decoding network: %w", err)
	}
	if err := json.Unmarshal(request, &e.Request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := json.Unmarshal(responses, &e.Responses); err != nil {
		return nil, fmt.Errorf("decoding responses: %w", err)
	}
	if err := json.Unmarshal(investigation, &e.Investigation); err != nil {
		return nil, fmt.Errorf("decoding investigation: %w", err)
	}
	return &e, nil
}

func eventJSON(e *threat.Event) (network, request, responses, investigation []byte, err error) {
	if network, err = json.Marshal(e.Network); err != nil {
		return
	}
	if request, err = json.Marshal(e.Request); err != nil {
		return
	}
	if responses, err = json.Marshal(e.Responses); err != nil {
		return
	}
	investigation, err = json.Marshal(e.Investigation)
	return
}

// CreateEvent implements threat.EventStore.
func (s *PGEventStore) CreateEvent(ctx context.Context, e *threat.Event) error {
	network, request, responses, investigation, err := eventJSON(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO security_events (`+eventColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		e.ID, e.Type, e.RiskScore, e.Severity, e.Status, e.UserID, network, request,
		e.Signatures, e.Flags, responses, investigation, e.RuleID, e.CreatedAt, e.UpdatedAt)
	return err
}

// GetEvent implements threat.EventStore.
func (s *PGEventStore) GetEvent(ctx context.Context, id string) (*threat.Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM security_events WHERE id = $1`, id))
}

// UpdateEvent implements threat.EventStore.
func (s *PGEventStore) UpdateEvent(ctx context.Context, e *threat.Event) error {
	network, request, responses, investigation, err := eventJSON(e)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE security_events SET status=$2, responses=$3, investigation=$4, rule_id=$5,
		 network=$6, request=$7, updated_at=$8 WHERE id=$1`,
		e.ID, e.Status, responses, investigation, e.RuleID, network, request, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// ListEvents implements threat.EventStore.
func (s *PGEventStore) ListEvents(ctx context.Context, filter threat.EventFilter) ([]*threat.Event, int, error) {
	filter = filter.Normalize()

	where := ` WHERE ($1 = '' OR type = $1) AND ($2 = '' OR severity = $2)
		AND ($3 = '' OR status = $3) AND ($4 = '' OR user_id = $4)
		AND ($5 = '' OR network->>'ip_address' = $5)
		AND ($6::timestamptz IS NULL OR created_at >= $6)
		AND ($7::timestamptz IS NULL OR created_at <= $7)`
	args := []any{string(filter.Type), string(filter.Severity), string(filter.Status), filter.UserID, filter.IP,
		nullTime(filter.From), nullTime(filter.To)}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM security_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM security_events`+where+
			` ORDER BY created_at DESC LIMIT $8 OFFSET $9`,
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*threat.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// PGRuleStore implements threat.RuleStore on Postgres.
type PGRuleStore struct {
	pool *pgxpool.Pool
}

// NewPGRuleStore creates a rule store on an existing pool.
func NewPGRuleStore(pool *pgxpool.Pool) *PGRuleStore {
	return &PGRuleStore{pool: pool}
}

const ruleColumns = `id, name, description, category, priority, conditions, actions, active,
	triggered, blocked, false_positives, last_triggered_at, created_by, created_at, updated_at`

func scanRule(row pgx.Row) (*threat.Rule, error) {
	var r threat.Rule
	var conditions []byte
	var actions []string
	var lastTriggered *time.Time
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Category, &r.Priority, &conditions,
		&actions, &r.Active, &r.Stats.Triggered, &r.Stats.Blocked, &r.Stats.FalsePositives,
		&lastTriggered, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, threat.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("decoding conditions: %w", err)
	}
	r.Actions = make([]threat.ResponseAction, len(actions))
	for i, a := range actions {
		r.Actions[i] = threat.ResponseAction(a)
	}
	r.Stats.LastTriggeredAt = fromNullTime(lastTriggered)
	return &r, nil
}

func ruleActions(r *threat.Rule) []string {
	out := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		out[i] = string(a)
	}
	return out
}

// CreateRule implements threat.RuleStore.
func (s *PGRuleStore) CreateRule(ctx context.Context, r *threat.Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO threat_rules (id, name, description, category, priority, conditions,
		 actions, active, created_by, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.Name, r.Description, r.Category, r.Priority, conditions, ruleActions(r),
		r.Active, r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	return err
}

// GetRule implements threat.RuleStore.
func (s *PGRuleStore) GetRule(ctx context.Context, id string) (*threat.Rule, error) {
	return scanRule(s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM threat_rules WHERE id = $1`, id))
}

// UpdateRule implements threat.RuleStore.
func (s *PGRuleStore) UpdateRule(ctx context.Context, r *threat.Rule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE threat_rules SET name=$2, description=$3, category=$4, priority=$5,
		 conditions=$6, actions=$7, active=$8, updated_at=$9 WHERE id=$1`,
		r.ID, r.Name, r.Description, r.Category, r.Priority, conditions, ruleActions(r),
		r.Active, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// DeleteRule implements threat.RuleStore.
func (s *PGRuleStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threat_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

func (s *PGRuleStore) queryRules(ctx context.Context, query string, args ...any) ([]*threat.Rule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*threat.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveRules implements threat.RuleStore.
func (s *PGRuleStore) ActiveRules(ctx context.Context, category threat.Category) ([]*threat.Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM threat_rules WHERE active AND category = $1
		 ORDER BY priority DESC, created_at ASC`, category)
}

// ListRules implements threat.RuleStore.
func (s *PGRuleStore) ListRules(ctx context.Context, includeInactive bool) ([]*threat.Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM threat_rules WHERE $1 OR active ORDER BY id`,
		includeInactive)
}

// RecordTrigger implements threat.RuleStore. The single UPDATE keeps the
// counter bump atomic under concurrent triggers.
func (s *PGRuleStore) RecordTrigger(ctx context.Context, ruleID string, blocked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE threat_rules SET triggered = triggered + 1,
		 blocked = blocked + CASE WHEN $2 THEN 1 ELSE 0 END,
		 last_triggered_at = now() WHERE id = $1`,
		ruleID, blocked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// PGReputationStore implements threat.ReputationStore on Postgres, using
// the native cidr type for containment.
type PGReputationStore struct {
	pool *pgxpool.Pool
}

// NewPGReputationStore creates a reputation store on an existing pool.
func NewPGReputationStore(pool *pgxpool.Pool) *PGReputationStore {
	return &PGReputationStore{pool: pool}
}

const reputationColumns = `id, network::text, threat_level, source, reason, expires_at, active,
	hit_count, last_hit_at, created_at, updated_at`

func scanReputation(row pgx.Row) (*threat.ReputationEntry, error) {
	var e threat.ReputationEntry
	var lastHit *time.Time
	err := row.Scan(&e.ID, &e.Address, &e.ThreatLevel, &e.Source, &e.Reason, &e.ExpiresAt,
		&e.Active, &e.HitCount, &lastHit, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, threat.ErrNotFound
		}
		return nil, err
	}
	e.LastHitAt = fromNullTime(lastHit)
	return &e, nil
}

// Lookup implements threat.ReputationStore. Postgres does the containment
// with >>= and the masklen ordering picks the most specific block.
func (s *PGReputationStore) Lookup(ctx context.Context, addr netip.Addr) (*threat.ReputationEntry, error) {
	e, err := scanReputation(s.pool.QueryRow(ctx,
		`SELECT `+reputationColumns+` FROM ip_reputation
		 WHERE active AND (expires_at IS NULL OR expires_at > now()) AND network >>= $1::inet
		 ORDER BY masklen(network) DESC LIMIT 1`,
		addr.String()))
	if errors.Is(err, threat.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// RecordHit implements threat.ReputationStore.
func (s *PGReputationStore) RecordHit(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ip_reputation SET hit_count = hit_count + 1, last_hit_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// CreateEntry implements threat.ReputationStore.
func (s *PGReputationStore) CreateEntry(ctx context.Context, e *threat.ReputationEntry) error {
	if _, err := parseEntryPrefix(e.Address); err != nil {
		return threat.ErrInvalidInput
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ip_reputation (id, network, threat_level, source, reason, expires_at,
		 active, hit_count, last_hit_at, created_at, updated_at)
		 VALUES ($1,$2::cidr,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.Address, e.ThreatLevel, e.Source, e.Reason, e.ExpiresAt, e.Active,
		e.HitCount, nullTime(e.LastHitAt), e.CreatedAt, e.UpdatedAt)
	return err
}

// GetEntry implements threat.ReputationStore.
func (s *PGReputationStore) GetEntry(ctx context.Context, id string) (*threat.ReputationEntry, error) {
	return scanReputation(s.pool.QueryRow(ctx,
		`SELECT `+reputationColumns+` FROM ip_reputation WHERE id = $1`, id))
}

// UpdateEntry implements threat.ReputationStore.
func (s *PGReputationStore) UpdateEntry(ctx context.Context, e *threat.ReputationEntry) error {
	if _, err := parseEntryPrefix(e.Address); err != nil {
		return threat.ErrInvalidInput
	}
	e.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE ip_reputation SET network=$2::cidr, threat_level=$3, source=$4, reason=$5,
		 expires_at=$6, active=$7, updated_at=$8 WHERE id=$1`,
		e.ID, e.Address, e.ThreatLevel, e.Source, e.Reason, e.ExpiresAt, e.Active, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// DeleteEntry implements threat.ReputationStore.
func (s *PGReputationStore) DeleteEntry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ip_reputation WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return threat.ErrNotFound
	}
	return nil
}

// ListEntries implements threat.ReputationStore.
func (s *PGReputationStore) ListEntries(ctx context.Context, includeInactive bool) ([]*threat.ReputationEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reputationColumns+` FROM ip_reputation WHERE $1 OR active ORDER BY id`,
		includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*threat.ReputationEntry
	for rows.Next() {
		e, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
