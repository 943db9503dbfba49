package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"claimcheck/internal/config"
	"claimcheck/internal/db"
	"claimcheck/internal/domain"
	"claimcheck/internal/migrate"
	"claimcheck/internal/repo"
	"claimcheck/internal/rules"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return e
}

func seedClaims(t *testing.T, e Engine, claims []domain.Claim) {
	t.Helper()
	tx, err := e.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	for _, c := range claims {
		if c.ImportedAt == "" {
			c.ImportedAt = "2024-03-01T08:00:00Z"
		}
		if err := e.Repo.InsertClaimTx(context.Background(), tx, c); err != nil {
			t.Fatalf("insert claim %s: %v", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// testRegistry builds two rules with controlled outcomes: a HIGH rule that
// flags c-1 and a MEDIUM rule that flags c-2 and c-3.
func testRegistry(t *testing.T) *rules.Registry {
	t.Helper()
	reg := rules.NewRegistry()
	mustRegister(t, reg, rules.Rule{
		ID:       "R-HIGH",
		Name:     "High severity check",
		Category: rules.CategoryValidity,
		Severity: rules.SeverityHigh,
		Check: func(ctx context.Context, c domain.Claim, _ rules.ProviderLookup) (*rules.Violation, error) {
			if c.ID == "c-1" {
				return &rules.Violation{Reason: "bad"}, nil
			}
			return nil, nil
		},
	})
	mustRegister(t, reg, rules.Rule{
		ID:       "R-MED",
		Name:     "Medium severity check",
		Category: rules.CategoryCompleteness,
		Severity: rules.SeverityMedium,
		Check: func(ctx context.Context, c domain.Claim, _ rules.ProviderLookup) (*rules.Violation, error) {
			if c.ID == "c-2" || c.ID == "c-3" {
				return &rules.Violation{Reason: "incomplete"}, nil
			}
			return nil, nil
		},
	})
	return reg
}

func mustRegister(t *testing.T, reg *rules.Registry, r rules.Rule) {
	t.Helper()
	if err := reg.Register(r); err != nil {
		t.Fatalf("register %s: %v", r.ID, err)
	}
}

func threeClaims() []domain.Claim {
	return []domain.Claim{
		{ID: "c-1", PatientID: "p-1", Status: "submitted"},
		{ID: "c-2", PatientID: "p-2", Status: "approved"},
		{ID: "c-3", PatientID: "p-3", Status: "paid"},
	}
}

func TestRunAndWeightedAggregates(t *testing.T) {
	e := newTestEngine(t)
	e.Registry = testRegistry(t)
	seedClaims(t, e, threeClaims())
	ctx := context.Background()

	run, err := e.Run(ctx, "tester")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("expected completed, got %q", run.Status)
	}
	if run.RecordsScanned != 3 || run.RulesEvaluated != 2 {
		t.Fatalf("unexpected run counts: %+v", run)
	}
	if run.NewFailures != 3 {
		t.Fatalf("expected 3 new failures, got %d", run.NewFailures)
	}

	summaries, err := e.RuleSummaries(ctx)
	if err != nil {
		t.Fatalf("rule summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	// HIGH: 1 failure x weight 5 = 5, MEDIUM: 2 x 2 = 4; sorted by impact.
	if summaries[0].RuleID != "R-HIGH" || summaries[0].FailureCount != 1 || summaries[0].WeightedImpact != 5 {
		t.Fatalf("unexpected first summary: %+v", summaries[0])
	}
	if summaries[1].RuleID != "R-MED" || summaries[1].FailureCount != 2 || summaries[1].WeightedImpact != 4 {
		t.Fatalf("unexpected second summary: %+v", summaries[1])
	}

	risks, err := e.CategoryRisks(ctx)
	if err != nil {
		t.Fatalf("category risks: %v", err)
	}
	byCategory := map[string]int{}
	for _, r := range risks {
		byCategory[r.Category] = r.RiskScore
	}
	if byCategory[rules.CategoryValidity] != 5 || byCategory[rules.CategoryCompleteness] != 4 {
		t.Fatalf("unexpected category risks: %v", byCategory)
	}

	dist, err := e.SeverityDistribution(ctx)
	if err != nil {
		t.Fatalf("severity distribution: %v", err)
	}
	bySeverity := map[string]int{}
	for _, d := range dist {
		bySeverity[d.Severity] = d.FailureCount
	}
	if bySeverity[rules.SeverityHigh] != 1 || bySeverity[rules.SeverityMedium] != 2 {
		t.Fatalf("unexpected distribution: %v", bySeverity)
	}

	card, err := e.Scorecard(ctx)
	if err != nil {
		t.Fatalf("scorecard: %v", err)
	}
	if card.TotalRecords != 3 {
		t.Fatalf("expected 3 total records, got %d", card.TotalRecords)
	}
	if card.RecordsWithIssues != 3 {
		t.Fatalf("expected 3 records with issues, got %d", card.RecordsWithIssues)
	}
	if card.HighSeverityIssues != 1 {
		t.Fatalf("expected 1 high severity issue, got %d", card.HighSeverityIssues)
	}
	// Total weight 9 over 3 records x max weight 5 => 100 - 60 = 40.00.
	if card.QualityScore != 40.00 {
		t.Fatalf("expected quality score 40.00, got %v", card.QualityScore)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	e.Registry = testRegistry(t)
	seedClaims(t, e, threeClaims())
	ctx := context.Background()

	first, err := e.Run(ctx, "tester")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.NewFailures != 3 {
		t.Fatalf("expected 3 new failures, got %d", first.NewFailures)
	}
	before, err := e.Repo.ListFailures(ctx, repo.FailureFilter{})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}

	// Advance the clock; a re-run must not touch existing rows.
	e.Now = func() time.Time { return time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC) }
	second, err := e.Run(ctx, "tester")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.NewFailures != 0 {
		t.Fatalf("expected 0 new failures on re-run, got %d", second.NewFailures)
	}
	after, err := e.Repo.ListFailures(ctx, repo.FailureFilter{})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("failure count changed: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i].DetectedAt != before[i].DetectedAt {
			t.Fatalf("detected_at changed for %s/%s", after[i].RuleID, after[i].RecordID)
		}
	}
}

func TestPredicateErrorBecomesDiagnostic(t *testing.T) {
	e := newTestEngine(t)
	reg := rules.NewRegistry()
	mustRegister(t, reg, rules.Rule{
		ID:       "R-BROKEN",
		Name:     "Broken predicate",
		Category: rules.CategoryValidity,
		Severity: rules.SeverityLow,
		Check: func(ctx context.Context, c domain.Claim, _ rules.ProviderLookup) (*rules.Violation, error) {
			if c.ID == "c-2" {
				return nil, errors.New("boom")
			}
			return nil, nil
		},
	})
	e.Registry = reg
	seedClaims(t, e, threeClaims())
	ctx := context.Background()

	run, err := e.Run(ctx, "tester")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("run aborted: %+v", run)
	}
	failures, err := e.Repo.ListFailures(ctx, repo.FailureFilter{Category: rules.CategoryDiagnostic})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 diagnostic entry, got %d", len(failures))
	}
	f := failures[0]
	if f.RecordID != "c-2" || f.Severity != rules.SeverityLow {
		t.Fatalf("unexpected diagnostic entry: %+v", f)
	}
	if f.Reason == "" {
		t.Fatal("diagnostic entry must carry the predicate error")
	}
}

func TestRunFailsOnMissingWeight(t *testing.T) {
	e := newTestEngine(t)
	e.Registry = testRegistry(t)
	seedClaims(t, e, threeClaims())
	e.Config.Weights = map[string]int{rules.SeverityHigh: 5} // MEDIUM missing

	_, err := e.Run(context.Background(), "tester")
	if !errors.Is(err, rules.ErrUnknownSeverity) {
		t.Fatalf("expected ErrUnknownSeverity, got %v", err)
	}
	failures, ferr := e.Repo.ListFailures(context.Background(), repo.FailureFilter{})
	if ferr != nil {
		t.Fatalf("list failures: %v", ferr)
	}
	if len(failures) != 0 {
		t.Fatalf("config error must fail before persistence, found %d rows", len(failures))
	}
}

func TestScorecardEmptyRecordSet(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Scorecard(context.Background())
	if !errors.Is(err, ErrEmptyRecordSet) {
		t.Fatalf("expected ErrEmptyRecordSet, got %v", err)
	}
}

func TestRunCanceledIsRecorded(t *testing.T) {
	e := newTestEngine(t)
	reg := rules.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	mustRegister(t, reg, rules.Rule{
		ID:       "R-CANCEL",
		Name:     "Cancels mid-run",
		Category: rules.CategoryValidity,
		Severity: rules.SeverityLow,
		Check: func(ctx context.Context, c domain.Claim, _ rules.ProviderLookup) (*rules.Violation, error) {
			cancel()
			return nil, ctx.Err()
		},
	})
	e.Registry = reg
	e.Config.Run.Parallelism = 1
	seedClaims(t, e, threeClaims())

	run, err := e.Run(ctx, "tester")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.Status != "canceled" {
		t.Fatalf("expected canceled status, got %q", run.Status)
	}
	runs, err := e.Repo.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "canceled" {
		t.Fatalf("canceled run not recorded: %+v", runs)
	}
}

func TestDanglingProviderFailsOnce(t *testing.T) {
	e := newTestEngine(t)
	seedClaims(t, e, []domain.Claim{{
		ID:          "c-1",
		PatientID:   "p-1",
		ProviderID:  strPtr("pr-404"),
		Amount:      floatPtr(100),
		ServiceDate: strPtr("2024-02-01"),
		Status:      "submitted",
	}})
	ctx := context.Background()

	if _, err := e.Run(ctx, "tester"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := e.Run(ctx, "tester"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	failures, err := e.Repo.ListFailures(ctx, repo.FailureFilter{RuleID: "CLAIM-UNKNOWN-PROVIDER"})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected exactly one referential failure, got %d", len(failures))
	}
	if failures[0].Reason != "provider_not_found" {
		t.Fatalf("unexpected reason: %q", failures[0].Reason)
	}
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestReset(t *testing.T) {
	e := newTestEngine(t)
	e.Registry = testRegistry(t)
	seedClaims(t, e, threeClaims())
	ctx := context.Background()

	if _, err := e.Run(ctx, "tester"); err != nil {
		t.Fatalf("run: %v", err)
	}
	n, err := e.Reset(ctx, "tester")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows deleted, got %d", n)
	}
	failures, err := e.Repo.ListFailures(ctx, repo.FailureFilter{})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected empty failure log, got %d rows", len(failures))
	}
}
