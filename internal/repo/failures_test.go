package repo

import (
	"context"
	"database/sql"
	"testing"

	"claimcheck/internal/db"
	"claimcheck/internal/domain"
	"claimcheck/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
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
	return Repo{DB: conn}
}

func inTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func failure(ruleID, recordID, detectedAt string) domain.ValidationFailure {
	return domain.ValidationFailure{
		RuleID:     ruleID,
		RuleName:   "Rule " + ruleID,
		Category:   "Validity",
		Severity:   "HIGH",
		RecordID:   recordID,
		Reason:     "bad",
		DetectedAt: detectedAt,
	}
}

func TestInsertFailuresCountsNewRowsOnly(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	var n int
	inTx(t, r, func(tx *sql.Tx) error {
		var err error
		n, err = r.InsertFailuresTx(ctx, tx, []domain.ValidationFailure{
			failure("R-1", "c-1", "2024-03-01T09:00:00Z"),
			failure("R-1", "c-2", "2024-03-01T09:00:00Z"),
		})
		return err
	})
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}

	// Re-insert one existing pair plus one new pair.
	inTx(t, r, func(tx *sql.Tx) error {
		var err error
		n, err = r.InsertFailuresTx(ctx, tx, []domain.ValidationFailure{
			failure("R-1", "c-1", "2024-03-02T09:00:00Z"),
			failure("R-1", "c-3", "2024-03-02T09:00:00Z"),
		})
		return err
	})
	if n != 1 {
		t.Fatalf("expected 1 newly inserted, got %d", n)
	}

	failures, err := r.ListFailures(ctx, FailureFilter{RecordID: "c-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected exactly one row for (R-1, c-1), got %d", len(failures))
	}
	if failures[0].DetectedAt != "2024-03-01T09:00:00Z" {
		t.Fatalf("detected_at overwritten: %s", failures[0].DetectedAt)
	}
}

func TestListFailuresFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	inTx(t, r, func(tx *sql.Tx) error {
		batch := []domain.ValidationFailure{
			failure("R-1", "c-1", "2024-03-01T09:00:00Z"),
			failure("R-2", "c-1", "2024-03-01T09:00:00Z"),
			failure("R-2", "c-2", "2024-03-01T09:00:00Z"),
		}
		batch[2].Category = "Completeness"
		_, err := r.InsertFailuresTx(ctx, tx, batch)
		return err
	})

	byRule, err := r.ListFailures(ctx, FailureFilter{RuleID: "R-2"})
	if err != nil {
		t.Fatalf("list by rule: %v", err)
	}
	if len(byRule) != 2 {
		t.Fatalf("expected 2 rows for R-2, got %d", len(byRule))
	}

	byRecord, err := r.ListFailures(ctx, FailureFilter{RecordID: "c-1"})
	if err != nil {
		t.Fatalf("list by record: %v", err)
	}
	if len(byRecord) != 2 {
		t.Fatalf("expected 2 rows for c-1, got %d", len(byRecord))
	}

	byCategory, err := r.ListFailures(ctx, FailureFilter{Category: "Completeness"})
	if err != nil {
		t.Fatalf("list by category: %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].RecordID != "c-2" {
		t.Fatalf("unexpected category filter result: %+v", byCategory)
	}
}

func TestClearFailures(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	inTx(t, r, func(tx *sql.Tx) error {
		_, err := r.InsertFailuresTx(ctx, tx, []domain.ValidationFailure{
			failure("R-1", "c-1", "2024-03-01T09:00:00Z"),
			failure("R-1", "c-2", "2024-03-01T09:00:00Z"),
		})
		return err
	})

	var removed int
	inTx(t, r, func(tx *sql.Tx) error {
		var err error
		removed, err = r.ClearFailuresTx(ctx, tx)
		return err
	})
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	count, err := r.CountFailures(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty table, got %d", count)
	}
}

func TestDistinctFailedRecords(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	inTx(t, r, func(tx *sql.Tx) error {
		_, err := r.InsertFailuresTx(ctx, tx, []domain.ValidationFailure{
			failure("R-1", "c-1", "2024-03-01T09:00:00Z"),
			failure("R-2", "c-1", "2024-03-01T09:00:00Z"),
			failure("R-2", "c-2", "2024-03-01T09:00:00Z"),
		})
		return err
	})
	n, err := r.DistinctFailedRecords(ctx)
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 distinct records, got %d", n)
	}
}
