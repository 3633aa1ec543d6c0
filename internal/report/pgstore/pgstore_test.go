package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/grievance/internal/postgres"
	"github.com/linnemanlabs/grievance/internal/report"
	"github.com/linnemanlabs/grievance/internal/report/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("GRIEVANCE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GRIEVANCE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func newReport(t *testing.T, s *pgstore.Store, cat *report.Catalog) *report.Report {
	t.Helper()
	now := time.Now().Truncate(time.Microsecond).UTC()
	id := ulid.Make().String()
	reporter := "user-" + id
	r := &report.Report{
		ID:             id,
		Code:           "RPT-" + id,
		OrganizationID: "org-" + id,
		ReporterID:     &reporter,
		StatusID:       cat.Initial().ID,
		Title:          "Unsafe scaffolding",
		Description:    "Scaffolding on site B has no guard rails",
		Attributes:     report.Attributes{RiskCategoryID: "safety", CountryCode: "DE"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreateReport(context.Background(), r); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	return r
}

func commit(r *report.Report, from, to int, comment string) *report.TransitionCommit {
	now := time.Now().Truncate(time.Microsecond).UTC()
	h := report.StatusHistoryEntry{ID: ulid.Make().String(), ReportID: r.ID, StatusID: to, ChangedBy: "tester", ChangedAt: now}
	if comment != "" {
		h.Comment = &comment
	}
	return &report.TransitionCommit{ReportID: r.ID, ExpectedStatusID: from, TargetStatusID: to, History: h, At: now}
}

func TestLoadCatalog(t *testing.T) {
	s := openStore(t)

	cat, err := s.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	assertEqual(t, "Initial", report.StatusPreEvaluation, cat.Initial().Code)
	if _, ok := cat.FilterResult(report.FilterSpam); !ok {
		t.Error("spam filter result missing")
	}
	pre := cat.Initial()
	wa, _ := cat.StatusByCode("waiting_admitted")
	if _, ok := cat.Rule(pre.ID, wa.ID); !ok {
		t.Error("pre_evaluation -> waiting_admitted rule missing")
	}
}

func TestCreateAndGetReport(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cat, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	r := newReport(t, s, cat)
	got, ok, err := s.GetReport(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if !ok {
		t.Fatal("GetReport returned ok=false, want true")
	}
	assertEqual(t, "Code", r.Code, got.Code)
	assertEqual(t, "StatusID", r.StatusID, got.StatusID)
	assertEqual(t, "CountryCode", "DE", got.Attributes.CountryCode)
	assertEqual(t, "ReporterID", *r.ReporterID, *got.ReporterID)
	if got.FilterResultID != nil {
		t.Errorf("FilterResultID = %v, want nil", *got.FilterResultID)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}

	if err := s.CreateReport(ctx, r); !errors.Is(err, report.ErrConflict) {
		t.Errorf("duplicate CreateReport err = %v, want conflict", err)
	}

	_, ok, err = s.GetReport(ctx, "missing-"+r.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing report")
	}
}

func TestCommitTransition(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cat, _ := s.LoadCatalog(ctx)
	r := newReport(t, s, cat)
	wa, _ := cat.StatusByCode("waiting_admitted")
	admitted, _ := cat.FilterResult(report.FilterAdmitted)

	c := commit(r, r.StatusID, wa.ID, "looks credible")
	c.Filter = &report.FilterDecision{
		ReportID:       r.ID,
		FilterResultID: admitted.ID,
		Reasoning:      "looks credible",
		DecidedBy:      "tester",
		DecidedAt:      c.At,
	}
	got, err := s.CommitTransition(ctx, c)
	if err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}
	assertEqual(t, "StatusID", wa.ID, got.StatusID)
	if got.FilterResultID == nil || *got.FilterResultID != admitted.ID {
		t.Errorf("FilterResultID = %v, want %d", got.FilterResultID, admitted.ID)
	}

	// Stale expected status loses.
	if _, err := s.CommitTransition(ctx, commit(r, r.StatusID, wa.ID, "")); !errors.Is(err, report.ErrConflict) {
		t.Errorf("stale commit err = %v, want conflict", err)
	}

	history, err := s.ListStatusHistory(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListStatusHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
	assertEqual(t, "history status", wa.ID, history[0].StatusID)
	if history[0].Comment == nil || *history[0].Comment != "looks credible" {
		t.Errorf("history comment = %v", history[0].Comment)
	}

	d, ok, err := s.GetFilterDecision(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("GetFilterDecision: ok=%v err=%v", ok, err)
	}
	assertEqual(t, "decision result", admitted.ID, d.FilterResultID)
}

func TestCommitTransition_RequiresAction(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cat, _ := s.LoadCatalog(ctx)
	r := newReport(t, s, cat)
	inv, _ := cat.StatusByCode("investigation")
	rem, _ := cat.StatusByCode("remediation")

	// Walk the report straight to investigation.
	if _, err := s.CommitTransition(ctx, commit(r, r.StatusID, inv.ID, "")); err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}

	c := commit(r, inv.ID, rem.ID, "plan agreed")
	c.RequireAction = true
	if _, err := s.CommitTransition(ctx, c); !errors.Is(err, report.ErrMissingAction) {
		t.Fatalf("err = %v, want missing action", err)
	}

	now := time.Now().Truncate(time.Microsecond).UTC()
	a := &report.Action{ID: ulid.Make().String(), ReportID: r.ID, Description: "install rails", StatusCode: report.ActionSuggested, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}
	if _, err := s.CommitTransition(ctx, c); err != nil {
		t.Fatalf("CommitTransition with action: %v", err)
	}
}

func TestActions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cat, _ := s.LoadCatalog(ctx)
	r := newReport(t, s, cat)

	now := time.Now().Truncate(time.Microsecond).UTC()
	due := now.Add(72 * time.Hour)
	a := &report.Action{ID: ulid.Make().String(), ReportID: r.ID, Description: "audit", StatusCode: report.ActionSuggested, DueDate: &due, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}

	orphan := &report.Action{ID: ulid.Make().String(), ReportID: "missing-" + r.ID, Description: "x", StatusCode: report.ActionSuggested, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateAction(ctx, orphan); !errors.Is(err, report.ErrNotFound) {
		t.Errorf("orphan CreateAction err = %v, want not found", err)
	}

	updated, err := s.UpdateActionStatus(ctx, a.ID, report.ActionImplemented, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateActionStatus: %v", err)
	}
	assertEqual(t, "StatusCode", report.ActionImplemented, updated.StatusCode)

	list, err := s.ListActions(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("actions len = %d, want 1", len(list))
	}
	if list[0].DueDate == nil || !list[0].DueDate.Equal(due) {
		t.Errorf("DueDate = %v, want %v", list[0].DueDate, due)
	}
}

func TestDepartmentScopeRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	org := "org-" + ulid.Make().String()

	d := &report.Department{
		ID:             ulid.Make().String(),
		OrganizationID: org,
		Name:           "EHS",
		Priority:       1,
		IsActive:       true,
		Scope: report.DepartmentScope{
			Countries: report.ScopeOf("DE", "PL"),
			Worksites: report.ScopeOf(),
		},
	}
	if err := s.PutDepartment(ctx, d); err != nil {
		t.Fatalf("PutDepartment: %v", err)
	}

	got, ok, err := s.GetDepartment(ctx, d.ID)
	if err != nil || !ok {
		t.Fatalf("GetDepartment: ok=%v err=%v", ok, err)
	}
	if !got.Scope.RiskCategories.IsWildcard() {
		t.Error("RiskCategories: want wildcard")
	}
	if got.Scope.Worksites.IsWildcard() || got.Scope.Worksites.Matches("") {
		t.Error("Worksites: want empty restricted scope")
	}
	if !got.Scope.Countries.Matches("PL") || got.Scope.Countries.Matches("FR") {
		t.Errorf("Countries = %v", got.Scope.Countries.Values())
	}

	list, err := s.ListDepartments(ctx, org)
	if err != nil {
		t.Fatalf("ListDepartments: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("departments len = %d, want 1", len(list))
	}
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}

func TestSeedCatalog_ReplacesRules(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t.Cleanup(func() {
		if err := s.SeedCatalog(context.Background(), report.DefaultCatalog()); err != nil {
			t.Errorf("restore default catalog: %v", err)
		}
	})

	edited, err := report.ParseCatalog([]byte(`
statuses:
  - {id: 1, code: pre_evaluation, label: Pre-evaluation, display_order: 1}
  - {id: 2, code: waiting_admitted, label: Admitted, display_order: 2}
  - {id: 3, code: open_in_progress, label: Open / in progress, display_order: 3}
  - {id: 4, code: investigation, label: Investigation, display_order: 4}
  - {id: 5, code: remediation, label: Remediation, display_order: 5}
  - {id: 6, code: archived, label: Archived, display_order: 6}
transitions:
  - {from: pre_evaluation, to: waiting_admitted}
  - {from: pre_evaluation, to: archived}
  - {from: waiting_admitted, to: open_in_progress}
  - {from: open_in_progress, to: investigation, requires_comment: true}
  - {from: investigation, to: remediation, requires_comment: true, requires_action: true}
  - {from: remediation, to: archived, requires_comment: true}
filter_results:
  - {id: 1, code: admitted, label: Admitted}
  - {id: 2, code: out_of_scope, label: Out of scope}
  - {id: 3, code: unfounded, label: Unfounded}
  - {id: 4, code: spam, label: Spam}
`))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if err := s.SeedCatalog(ctx, edited); err != nil {
		t.Fatalf("SeedCatalog: %v", err)
	}

	got, err := s.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if _, ok := got.Rule(2, 6); ok {
		t.Error("waiting_admitted -> archived should be gone after reseeding")
	}
	assertEqual(t, "rules", len(edited.Rules()), len(got.Rules()))
}
