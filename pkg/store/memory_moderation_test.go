package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vigilant-labs/vigil/pkg/moderation"
)

func TestMemoryTermStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTermStore()

	term := &moderation.Term{
		Pattern:  "badword",
		Category: moderation.TermCategorySpam,
		Severity: moderation.SeverityMedium,
		Action:   moderation.TermFilter,
		Active:   true,
	}
	if err := s.CreateTerm(ctx, term); err != nil {
		t.Fatalf("CreateTerm: %v", err)
	}
	if term.ID == "" {
		t.Fatal("CreateTerm did not assign an ID")
	}

	got, err := s.GetTerm(ctx, term.ID)
	if err != nil {
		t.Fatalf("GetTerm: %v", err)
	}
	if got.Pattern != "badword" {
		t.Errorf("Pattern = %q, want badword", got.Pattern)
	}

	got.Active = false
	if err := s.UpdateTerm(ctx, got); err != nil {
		t.Fatalf("UpdateTerm: %v", err)
	}

	active, err := s.ActiveTerms(ctx)
	if err != nil {
		t.Fatalf("ActiveTerms: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ActiveTerms after deactivation = %d terms, want 0", len(active))
	}

	all, err := s.ListTerms(ctx, "", true)
	if err != nil {
		t.Fatalf("ListTerms: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListTerms includeInactive = %d terms, want 1", len(all))
	}

	if err := s.DeleteTerm(ctx, term.ID); err != nil {
		t.Fatalf("DeleteTerm: %v", err)
	}
	if _, err := s.GetTerm(ctx, term.ID); !errors.Is(err, moderation.ErrNotFound) {
		t.Errorf("GetTerm after delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryTermStoreRecordHit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTermStore()

	term := &moderation.Term{Pattern: "x", Active: true}
	if err := s.CreateTerm(ctx, term); err != nil {
		t.Fatalf("CreateTerm: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordHit(ctx, term.ID); err != nil {
			t.Fatalf("RecordHit: %v", err)
		}
	}
	got, err := s.GetTerm(ctx, term.ID)
	if err != nil {
		t.Fatalf("GetTerm: %v", err)
	}
	if got.HitCount != 3 {
		t.Errorf("HitCount = %d, want 3", got.HitCount)
	}
	if got.LastHitAt.IsZero() {
		t.Error("LastHitAt not set")
	}

	if err := s.RecordHit(ctx, "missing"); !errors.Is(err, moderation.ErrNotFound) {
		t.Errorf("RecordHit missing: err = %v, want ErrNotFound", err)
	}
}

func newCase(id, author string, status moderation.Status, createdAt time.Time) *moderation.Case {
	return &moderation.Case{
		ID:              id,
		ContentType:     moderation.ContentMessage,
		AuthorID:        author,
		OriginalContent: "content " + id,
		Status:          status,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestMemoryCaseStoreReviewCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()

	c := newCase("c1", "alice", moderation.StatusPendingReview, time.Now())
	if err := s.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	review := moderation.Review{
		Reviewed:   true,
		ReviewerID: "mod-1",
		ReviewedAt: time.Now(),
		Decision:   moderation.DecisionApprove,
	}
	action := moderation.ActionRecord{Type: moderation.ActionApproveContent, ExecutedBy: "mod-1"}
	got, err := s.RecordReview(ctx, "c1", review, moderation.StatusApproved, action)
	if err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	if got.Status != moderation.StatusApproved {
		t.Errorf("Status = %q, want approved", got.Status)
	}
	if !got.Review.Reviewed {
		t.Error("Review.Reviewed not set")
	}
	if len(got.Actions) != 1 || got.Actions[0].Type != moderation.ActionApproveContent {
		t.Errorf("Actions = %+v, want the approval record", got.Actions)
	}

	// The second review must lose the race.
	if _, err := s.RecordReview(ctx, "c1", review, moderation.StatusRejected, action); !errors.Is(err, moderation.ErrAlreadyReviewed) {
		t.Errorf("second RecordReview: err = %v, want ErrAlreadyReviewed", err)
	}

	// Automatic updates must not touch a decided case either.
	got.Status = moderation.StatusBlocked
	if err := s.UpdateCase(ctx, got); !errors.Is(err, moderation.ErrAlreadyReviewed) {
		t.Errorf("UpdateCase on reviewed case: err = %v, want ErrAlreadyReviewed", err)
	}

	if _, err := s.RecordReview(ctx, "missing", review, moderation.StatusApproved, action); !errors.Is(err, moderation.ErrNotFound) {
		t.Errorf("RecordReview missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryCaseStoreSetAppeal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()

	c := newCase("c1", "alice", moderation.StatusPendingReview, time.Now())
	if err := s.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	review := moderation.Review{Reviewed: true, ReviewerID: "mod-1", Decision: moderation.DecisionReject}
	if _, err := s.RecordReview(ctx, "c1", review, moderation.StatusRejected,
		moderation.ActionRecord{Type: moderation.ActionRejectContent}); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}

	appeal := moderation.Appeal{Appealed: true, Reason: "mistake", Status: moderation.AppealPending}
	got, err := s.SetAppeal(ctx, "c1", appeal, "")
	if err != nil {
		t.Fatalf("SetAppeal: %v", err)
	}
	if got.Appeal.Status != moderation.AppealPending {
		t.Errorf("Appeal = %+v, want pending", got.Appeal)
	}
	if got.Status != moderation.StatusRejected {
		t.Errorf("Status = %q, empty status must keep the current one", got.Status)
	}

	appeal.Status = moderation.AppealApproved
	got, err = s.SetAppeal(ctx, "c1", appeal, moderation.StatusApproved,
		moderation.ActionRecord{Type: moderation.ActionAppealUpheld, ExecutedBy: "mod-2"})
	if err != nil {
		t.Fatalf("SetAppeal: %v", err)
	}
	if got.Status != moderation.StatusApproved || got.Appeal.Status != moderation.AppealApproved {
		t.Errorf("case = status %q appeal %q, want approved/approved", got.Status, got.Appeal.Status)
	}
	if len(got.Actions) != 2 || got.Actions[1].Type != moderation.ActionAppealUpheld {
		t.Errorf("Actions = %+v, want reject then appeal_upheld", got.Actions)
	}

	if _, err := s.SetAppeal(ctx, "missing", appeal, ""); !errors.Is(err, moderation.ErrNotFound) {
		t.Errorf("SetAppeal missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryCaseStoreListPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustCreate := func(c *moderation.Case) {
		t.Helper()
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
	}
	mustCreate(newCase("c1", "alice", moderation.StatusPendingReview, base.Add(2*time.Minute)))
	mustCreate(newCase("c2", "bob", moderation.StatusApproved, base))
	mustCreate(newCase("c3", "alice", moderation.StatusPendingReview, base))

	pending, total, err := s.ListPending(ctx, moderation.ListOptions{})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(pending) != 2 || pending[0].ID != "c3" || pending[1].ID != "c1" {
		t.Errorf("pending order = %v, want [c3 c1] (oldest first)", caseIDs(pending))
	}

	page, total, err := s.ListPending(ctx, moderation.ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListPending paged: %v", err)
	}
	if total != 2 || len(page) != 1 || page[0].ID != "c1" {
		t.Errorf("page = %v (total %d), want [c1] total 2", caseIDs(page), total)
	}
}

func TestMemoryCaseStoreListPendingFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	profile := newCase("c1", "alice", moderation.StatusPendingReview, base)
	profile.ContentType = moderation.ContentUserProfile
	profile.Findings = []moderation.Finding{{Kind: moderation.FindingSpam, Severity: moderation.SeverityLow}}
	message := newCase("c2", "bob", moderation.StatusPendingReview, base.Add(time.Minute))
	message.Findings = []moderation.Finding{{Kind: moderation.FindingViolence, Severity: moderation.SeverityHigh}}
	for _, c := range []*moderation.Case{profile, message} {
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
	}

	got, total, err := s.ListPending(ctx, moderation.ListOptions{ContentType: moderation.ContentUserProfile})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("content_type filter = %v (total %d), want [c1]", caseIDs(got), total)
	}

	got, total, err = s.ListPending(ctx, moderation.ListOptions{MinSeverity: moderation.SeverityMedium})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].ID != "c2" {
		t.Errorf("min_severity filter = %v (total %d), want [c2]", caseIDs(got), total)
	}
}

func TestMemoryCaseStoreListByAuthor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, c := range []*moderation.Case{
		newCase("c1", "alice", moderation.StatusApproved, base),
		newCase("c2", "bob", moderation.StatusApproved, base.Add(time.Minute)),
		newCase("c3", "alice", moderation.StatusBlocked, base.Add(2*time.Minute)),
	} {
		if err := s.CreateCase(ctx, c); err != nil {
			t.Fatalf("CreateCase %d: %v", i, err)
		}
	}

	got, total, err := s.ListByAuthor(ctx, "alice", moderation.ListOptions{})
	if err != nil {
		t.Fatalf("ListByAuthor: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(got) != 2 || got[0].ID != "c3" || got[1].ID != "c1" {
		t.Errorf("order = %v, want [c3 c1] (newest first)", caseIDs(got))
	}
}

func caseIDs(cs []*moderation.Case) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestMemoryCaseStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()

	c := newCase("c1", "alice", moderation.StatusApproved, time.Now())
	c.Findings = []moderation.Finding{{Kind: moderation.FindingSpam}}
	if err := s.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	// Mutating the returned copy must not leak into the store.
	got, err := s.GetCase(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	got.Findings[0].Kind = moderation.FindingViolence
	got.Status = moderation.StatusBlocked

	again, err := s.GetCase(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if again.Findings[0].Kind != moderation.FindingSpam {
		t.Errorf("stored finding mutated: %q", again.Findings[0].Kind)
	}
	if again.Status != moderation.StatusApproved {
		t.Errorf("stored status mutated: %q", again.Status)
	}
}

func TestMemoryHistoryStoreWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryHistoryStore()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for want := 1; want <= 3; want++ {
		n, err := s.RecordContent(ctx, "alice", "hello", time.Hour)
		if err != nil {
			t.Fatalf("RecordContent: %v", err)
		}
		if n != want {
			t.Errorf("count = %d, want %d", n, want)
		}
		now = now.Add(time.Minute)
	}

	// Different content and different author stay separate.
	if n, _ := s.RecordContent(ctx, "alice", "other", time.Hour); n != 1 {
		t.Errorf("different content count = %d, want 1", n)
	}
	if n, _ := s.RecordContent(ctx, "bob", "hello", time.Hour); n != 1 {
		t.Errorf("different author count = %d, want 1", n)
	}

	// After the window passes only the fresh posting remains.
	now = now.Add(2 * time.Hour)
	if n, _ := s.RecordContent(ctx, "alice", "hello", time.Hour); n != 1 {
		t.Errorf("count after window = %d, want 1", n)
	}
}

func TestMemoryAccountStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()

	until := time.Now().Add(24 * time.Hour)
	if err := s.SuspendUntil(ctx, "u1", until); err != nil {
		t.Fatalf("SuspendUntil: %v", err)
	}
	if err := s.RestrictFeatures(ctx, "u1", []string{"posting"}); err != nil {
		t.Fatalf("RestrictFeatures: %v", err)
	}
	if err := s.Warn(ctx, "u1", "first warning"); err != nil {
		t.Fatalf("Warn: %v", err)
	}

	a := s.Account("u1")
	if a.SuspendedUntil == nil || !a.SuspendedUntil.Equal(until) {
		t.Errorf("SuspendedUntil = %v, want %v", a.SuspendedUntil, until)
	}
	if len(a.Restrictions) != 1 || a.Restrictions[0] != "posting" {
		t.Errorf("Restrictions = %v", a.Restrictions)
	}
	if len(a.Warnings) != 1 {
		t.Errorf("Warnings = %v", a.Warnings)
	}

	if err := s.Deactivate(ctx, "u2"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if s.Account("u2").Active {
		t.Error("account still active after Deactivate")
	}

	s.FailWith = errors.New("account service down")
	if err := s.Warn(ctx, "u1", "again"); err == nil {
		t.Error("Warn succeeded with FailWith set")
	}
}
