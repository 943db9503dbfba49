package repo

import (
	"context"

	"claimcheck/internal/domain"
)

// Aggregation queries return plain counts grouped the way each report needs
// them; severity weighting is applied by the caller so the weight table
// stays injected configuration rather than schema state.

// RuleFailureCounts groups failures by rule, carrying the denormalized rule
// metadata along for the summary report.
func (r Repo) RuleFailureCounts(ctx context.Context) ([]domain.RuleSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rule_id, rule_name, category, severity, count(*)
FROM validation_failures GROUP BY rule_id, rule_name, category, severity ORDER BY rule_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RuleSummary
	for rows.Next() {
		var s domain.RuleSummary
		if err := rows.Scan(&s.RuleID, &s.RuleName, &s.Category, &s.Severity, &s.FailureCount); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CategorySeverityCounts groups failures by (category, severity) so the
// caller can sum per-failure weights into a category risk score.
type CategorySeverityCount struct {
	Category string
	Severity string
	Count    int
}

func (r Repo) CategorySeverityCounts(ctx context.Context) ([]CategorySeverityCount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT category, severity, count(*)
FROM validation_failures GROUP BY category, severity ORDER BY category ASC, severity ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CategorySeverityCount
	for rows.Next() {
		var c CategorySeverityCount
		if err := rows.Scan(&c.Category, &c.Severity, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SeverityCounts(ctx context.Context) ([]domain.SeverityCount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT severity, count(*)
FROM validation_failures GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SeverityCount
	for rows.Next() {
		var s domain.SeverityCount
		if err := rows.Scan(&s.Severity, &s.FailureCount); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DistinctFailedRecords(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(DISTINCT record_id) FROM validation_failures`).Scan(&n)
	return n, err
}

func (r Repo) CountFailuresBySeverity(ctx context.Context, severity string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM validation_failures WHERE severity=?`, severity).Scan(&n)
	return n, err
}
