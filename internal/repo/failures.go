package repo

import (
	"context"
	"database/sql"

	"claimcheck/internal/domain"
)

// InsertFailuresTx writes a batch of failures inside one transaction and
// returns the number of newly inserted rows. The ON CONFLICT DO NOTHING on
// (rule_id, record_id) makes duplicate inserts successful no-ops, which is
// the mechanism that keeps full re-runs idempotent: detected_at of an
// already-present failure is never touched.
func (r Repo) InsertFailuresTx(ctx context.Context, tx *sql.Tx, failures []domain.ValidationFailure) (int, error) {
	inserted := 0
	for _, f := range failures {
		res, err := tx.ExecContext(ctx, `INSERT INTO validation_failures(rule_id, rule_name, category, severity, record_id, reason, detected_at)
VALUES (?,?,?,?,?,?,?) ON CONFLICT(rule_id, record_id) DO NOTHING`,
			f.RuleID, f.RuleName, f.Category, f.Severity, f.RecordID, f.Reason, f.DetectedAt)
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// FailureFilter narrows ListFailures; zero values mean no filtering.
type FailureFilter struct {
	RecordID string
	RuleID   string
	Category string
}

func (r Repo) ListFailures(ctx context.Context, filter FailureFilter) ([]domain.ValidationFailure, error) {
	query := `SELECT rule_id, rule_name, category, severity, record_id, reason, detected_at FROM validation_failures`
	var conds []string
	var args []any
	if filter.RecordID != "" {
		conds = append(conds, `record_id=?`)
		args = append(args, filter.RecordID)
	}
	if filter.RuleID != "" {
		conds = append(conds, `rule_id=?`)
		args = append(args, filter.RuleID)
	}
	if filter.Category != "" {
		conds = append(conds, `category=?`)
		args = append(args, filter.Category)
	}
	for i, cond := range conds {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += ` ORDER BY rule_id ASC, record_id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationFailure
	for rows.Next() {
		var f domain.ValidationFailure
		if err := rows.Scan(&f.RuleID, &f.RuleName, &f.Category, &f.Severity, &f.RecordID, &f.Reason, &f.DetectedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) CountFailures(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM validation_failures`).Scan(&n)
	return n, err
}

// ClearFailuresTx empties the failure log. Reset is an explicit out-of-band
// operation, never part of a normal run.
func (r Repo) ClearFailuresTx(ctx context.Context, tx *sql.Tx) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM validation_failures`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
