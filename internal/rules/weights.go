package rules

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSeverity = errors.New("unknown severity")
)

// WeightTable maps severity tiers to positive business-impact weights. It is
// loaded once per run from config and injected wherever weighting happens;
// nothing reads weights from ambient state.
type WeightTable map[string]int

// DefaultWeights returns the built-in weighting scheme.
func DefaultWeights() WeightTable {
	return WeightTable{
		SeverityHigh:   5,
		SeverityMedium: 2,
		SeverityLow:    1,
	}
}

// Weight returns the weight for a severity. A missing entry is a
// configuration error, never a silent zero.
func (w WeightTable) Weight(severity string) (int, error) {
	weight, ok := w[severity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSeverity, severity)
	}
	return weight, nil
}

// Max returns the weight of the highest-ranked severity in the table. The
// scorecard normalizes against this value.
func (w WeightTable) Max() (int, error) {
	best := ""
	for severity := range w {
		if best == "" || Rank(severity) > Rank(best) {
			best = severity
		}
	}
	if best == "" {
		return 0, fmt.Errorf("%w: weight table is empty", ErrUnknownSeverity)
	}
	return w[best], nil
}

// Validate checks the table against a registry before evaluation: every
// severity referenced by a rule must carry a positive weight.
func (w WeightTable) Validate(reg *Registry) error {
	for severity, weight := range w {
		if weight <= 0 {
			return fmt.Errorf("weight for severity %s must be positive, got %d", severity, weight)
		}
	}
	for _, rule := range reg.List(nil) {
		if _, err := w.Weight(rule.Severity); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}
	return nil
}
