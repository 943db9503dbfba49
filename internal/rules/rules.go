package rules

import (
	"context"
	"errors"
	"fmt"

	"claimcheck/internal/domain"
)

// Severity tiers, highest first.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// severityRank orders tiers for max-weight lookup and report sorting.
var severityRank = map[string]int{
	SeverityHigh:   3,
	SeverityMedium: 2,
	SeverityLow:    1,
}

// Rank returns the order of a severity tier, 0 for unknown tiers.
func Rank(severity string) int {
	return severityRank[severity]
}

// Quality categories. CategoryDiagnostic is reserved for entries produced
// when a predicate itself errors; rules must not register under it.
const (
	CategoryCompleteness = "Completeness"
	CategoryValidity     = "Validity"
	CategoryConsistency  = "Consistency"
	CategoryReferential  = "Referential-Integrity"
	CategoryDiagnostic   = "Diagnostic"
)

var (
	ErrDuplicateRuleID = errors.New("duplicate rule id")
)

// ProviderLookup resolves a provider id against the reference dataset.
// Absent providers return (nil, nil); errors are reserved for lookup
// infrastructure problems.
type ProviderLookup interface {
	Get(ctx context.Context, id string) (*domain.Provider, error)
}

// Violation is a rule verdict against one claim. Reason is one stable
// machine-parsable string per rule so consumers can group by it.
type Violation struct {
	Reason string
}

// Rule is an immutable declarative check. Check must be pure: same claim and
// reference data always yield the same verdict, which is what makes re-runs
// idempotent. A nil Violation means the claim passes.
type Rule struct {
	ID       string
	Name     string
	Category string
	Severity string
	Check    func(ctx context.Context, c domain.Claim, providers ProviderLookup) (*Violation, error)
}

// Registry holds rule definitions in registration order.
type Registry struct {
	rules []Rule
	index map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register appends a rule, rejecting id collisions before any evaluation
// can start.
func (r *Registry) Register(rule Rule) error {
	if rule.ID == "" {
		return errors.New("rule id required")
	}
	if rule.Check == nil {
		return fmt.Errorf("rule %s has no check", rule.ID)
	}
	if _, exists := r.index[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRuleID, rule.ID)
	}
	r.index[rule.ID] = len(r.rules)
	r.rules = append(r.rules, rule)
	return nil
}

// List returns rules in registration order, skipping disabled ids.
func (r *Registry) List(disabled map[string]bool) []Rule {
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if disabled[rule.ID] {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// Get returns a rule by id.
func (r *Registry) Get(id string) (Rule, bool) {
	idx, ok := r.index[id]
	if !ok {
		return Rule{}, false
	}
	return r.rules[idx], true
}

func (r *Registry) Len() int { return len(r.rules) }
