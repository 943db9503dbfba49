package engine

import (
	"context"
	"errors"
	"math"
	"sort"

	"claimcheck/internal/domain"
	"claimcheck/internal/rules"
)

// ErrEmptyRecordSet is returned by Scorecard when no claims exist. "No
// records" is not the same claim as "no defects", so the score is refused
// rather than reported as 100.
var ErrEmptyRecordSet = errors.New("record set is empty")

// The four report views are pure reads over the failure log plus the
// injected weight table; they hold no state of their own and are recomputed
// on demand. For a run's final scorecard, call them after Run has returned.

// RuleSummaries ranks rules by how hard they fire: weighted_impact is
// failure_count times the weight of the rule's severity.
func (e Engine) RuleSummaries(ctx context.Context) ([]domain.RuleSummary, error) {
	weights := e.Config.WeightTable()
	summaries, err := e.Repo.RuleFailureCounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		w, err := weights.Weight(summaries[i].Severity)
		if err != nil {
			return nil, err
		}
		summaries[i].WeightedImpact = summaries[i].FailureCount * w
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].WeightedImpact != summaries[j].WeightedImpact {
			return summaries[i].WeightedImpact > summaries[j].WeightedImpact
		}
		return summaries[i].RuleID < summaries[j].RuleID
	})
	return summaries, nil
}

// CategoryRisks sums per-failure severity weight by category. Unlike the
// rule summary this adds weight per failure, since one category can mix
// severities.
func (e Engine) CategoryRisks(ctx context.Context) ([]domain.CategoryRisk, error) {
	weights := e.Config.WeightTable()
	counts, err := e.Repo.CategorySeverityCounts(ctx)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int)
	for _, c := range counts {
		w, err := weights.Weight(c.Severity)
		if err != nil {
			return nil, err
		}
		scores[c.Category] += c.Count * w
	}
	res := make([]domain.CategoryRisk, 0, len(scores))
	for category, score := range scores {
		res = append(res, domain.CategoryRisk{Category: category, RiskScore: score})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].RiskScore != res[j].RiskScore {
			return res[i].RiskScore > res[j].RiskScore
		}
		return res[i].Category < res[j].Category
	})
	return res, nil
}

// SeverityDistribution is a histogram over severities that actually
// occurred, highest tier first.
func (e Engine) SeverityDistribution(ctx context.Context) ([]domain.SeverityCount, error) {
	counts, err := e.Repo.SeverityCounts(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(counts, func(i, j int) bool {
		return rules.Rank(counts[i].Severity) > rules.Rank(counts[j].Severity)
	})
	return counts, nil
}

// Scorecard condenses the batch into four executive numbers. quality_score
// is 100 minus the share of the maximum conceivable per-record penalty that
// was actually incurred, rounded to two decimals. It is deliberately
// unclamped: heavily failing batches can score below zero, which consumers
// must present as critical rather than reject.
func (e Engine) Scorecard(ctx context.Context) (domain.Scorecard, error) {
	weights := e.Config.WeightTable()
	totalRecords, err := e.Repo.CountClaims(ctx)
	if err != nil {
		return domain.Scorecard{}, err
	}
	if totalRecords == 0 {
		return domain.Scorecard{}, ErrEmptyRecordSet
	}
	maxWeight, err := weights.Max()
	if err != nil {
		return domain.Scorecard{}, err
	}
	counts, err := e.Repo.CategorySeverityCounts(ctx)
	if err != nil {
		return domain.Scorecard{}, err
	}
	totalWeight := 0
	for _, c := range counts {
		w, err := weights.Weight(c.Severity)
		if err != nil {
			return domain.Scorecard{}, err
		}
		totalWeight += c.Count * w
	}
	withIssues, err := e.Repo.DistinctFailedRecords(ctx)
	if err != nil {
		return domain.Scorecard{}, err
	}
	highIssues, err := e.Repo.CountFailuresBySeverity(ctx, rules.SeverityHigh)
	if err != nil {
		return domain.Scorecard{}, err
	}
	score := 100 - float64(totalWeight)/float64(totalRecords*maxWeight)*100
	return domain.Scorecard{
		TotalRecords:       totalRecords,
		RecordsWithIssues:  withIssues,
		HighSeverityIssues: highIssues,
		QualityScore:       round2(score),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
