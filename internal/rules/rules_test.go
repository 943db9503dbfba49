package rules

import (
	"context"
	"errors"
	"testing"

	"claimcheck/internal/domain"
)

type fakeLookup map[string]*domain.Provider

func (f fakeLookup) Get(_ context.Context, id string) (*domain.Provider, error) {
	return f[id], nil
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func checkRule(t *testing.T, reg *Registry, id string, c domain.Claim, providers ProviderLookup) *Violation {
	t.Helper()
	rule, ok := reg.Get(id)
	if !ok {
		t.Fatalf("rule %s not registered", id)
	}
	v, err := rule.Check(context.Background(), c, providers)
	if err != nil {
		t.Fatalf("rule %s errored: %v", id, err)
	}
	return v
}

func TestRegisterDuplicateRuleID(t *testing.T) {
	reg := NewRegistry()
	rule := Rule{
		ID:       "R-1",
		Name:     "first",
		Category: CategoryValidity,
		Severity: SeverityLow,
		Check: func(context.Context, domain.Claim, ProviderLookup) (*Violation, error) {
			return nil, nil
		},
	}
	if err := reg.Register(rule); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := reg.Register(rule)
	if !errors.Is(err, ErrDuplicateRuleID) {
		t.Fatalf("expected ErrDuplicateRuleID, got %v", err)
	}
}

func TestListSkipsDisabled(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	all := reg.List(nil)
	filtered := reg.List(map[string]bool{"CLAIM-MISSING-AMOUNT": true})
	if len(filtered) != len(all)-1 {
		t.Fatalf("expected one rule filtered out, got %d of %d", len(filtered), len(all))
	}
	for _, r := range filtered {
		if r.ID == "CLAIM-MISSING-AMOUNT" {
			t.Fatal("disabled rule still listed")
		}
	}
}

func TestWeightUnknownSeverity(t *testing.T) {
	w := DefaultWeights()
	if _, err := w.Weight("CRITICAL"); !errors.Is(err, ErrUnknownSeverity) {
		t.Fatalf("expected ErrUnknownSeverity, got %v", err)
	}
}

func TestMaxWeightFollowsSeverityRank(t *testing.T) {
	// An inverted table still takes the weight of the highest tier, not the
	// largest number.
	w := WeightTable{SeverityHigh: 1, SeverityMedium: 7, SeverityLow: 3}
	max, err := w.Max()
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if max != 1 {
		t.Fatalf("expected weight of HIGH (1), got %d", max)
	}
}

func TestValidateRejectsUncoveredSeverity(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	w := WeightTable{SeverityHigh: 5} // builtin set also uses MEDIUM and LOW
	if err := w.Validate(reg); !errors.Is(err, ErrUnknownSeverity) {
		t.Fatalf("expected ErrUnknownSeverity, got %v", err)
	}
}

func TestMissingProviderIsCompletenessNotReferential(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	claim := domain.Claim{ID: "c-1", Status: "submitted"}
	lookup := fakeLookup{}

	if v := checkRule(t, reg, "CLAIM-MISSING-PROVIDER", claim, lookup); v == nil {
		t.Fatal("missing provider_id should fail completeness")
	}
	if v := checkRule(t, reg, "CLAIM-UNKNOWN-PROVIDER", claim, lookup); v != nil {
		t.Fatalf("missing provider_id must not fail referential check: %+v", v)
	}
	if v := checkRule(t, reg, "CLAIM-INACTIVE-PROVIDER", claim, lookup); v != nil {
		t.Fatalf("missing provider_id must not fail inactive check: %+v", v)
	}
}

func TestDanglingProviderReference(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	claim := domain.Claim{ID: "c-1", ProviderID: strPtr("pr-404")}
	v := checkRule(t, reg, "CLAIM-UNKNOWN-PROVIDER", claim, fakeLookup{})
	if v == nil || v.Reason != "provider_not_found" {
		t.Fatalf("expected provider_not_found, got %+v", v)
	}
}

func TestInactiveProvider(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	lookup := fakeLookup{
		"pr-1": {ID: "pr-1", Active: false},
		"pr-2": {ID: "pr-2", Active: true},
	}
	if v := checkRule(t, reg, "CLAIM-INACTIVE-PROVIDER", domain.Claim{ID: "c-1", ProviderID: strPtr("pr-1")}, lookup); v == nil {
		t.Fatal("inactive provider should be flagged")
	}
	if v := checkRule(t, reg, "CLAIM-INACTIVE-PROVIDER", domain.Claim{ID: "c-2", ProviderID: strPtr("pr-2")}, lookup); v != nil {
		t.Fatalf("active provider flagged: %+v", v)
	}
}

func TestNegativeAmountIsStrict(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	if v := checkRule(t, reg, "CLAIM-NEGATIVE-AMOUNT", domain.Claim{ID: "c-1", Amount: floatPtr(0)}, nil); v != nil {
		t.Fatalf("zero amount flagged as negative: %+v", v)
	}
	if v := checkRule(t, reg, "CLAIM-NEGATIVE-AMOUNT", domain.Claim{ID: "c-2", Amount: floatPtr(-0.01)}, nil); v == nil {
		t.Fatal("negative amount not flagged")
	}
}

func TestDischargeBeforeAdmission(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	sameDay := domain.Claim{ID: "c-1", AdmissionDate: strPtr("2024-02-10"), DischargeDate: strPtr("2024-02-10")}
	if v := checkRule(t, reg, "CLAIM-DISCHARGE-BEFORE-ADMIT", sameDay, nil); v != nil {
		t.Fatalf("same-day stay flagged: %+v", v)
	}
	inverted := domain.Claim{ID: "c-2", AdmissionDate: strPtr("2024-02-10"), DischargeDate: strPtr("2024-02-09")}
	if v := checkRule(t, reg, "CLAIM-DISCHARGE-BEFORE-ADMIT", inverted, nil); v == nil {
		t.Fatal("inverted stay not flagged")
	}
}

func TestMalformedDatePropagatesError(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	rule, ok := reg.Get("CLAIM-DISCHARGE-BEFORE-ADMIT")
	if !ok {
		t.Fatal("rule not registered")
	}
	claim := domain.Claim{ID: "c-1", AdmissionDate: strPtr("not-a-date"), DischargeDate: strPtr("2024-02-10")}
	if _, err := rule.Check(context.Background(), claim, nil); err == nil {
		t.Fatal("expected parse error for malformed date")
	}
}

func TestEmptyStatusIsNotUnknown(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	if v := checkRule(t, reg, "CLAIM-UNKNOWN-STATUS", domain.Claim{ID: "c-1"}, nil); v != nil {
		t.Fatalf("empty status flagged: %+v", v)
	}
	if v := checkRule(t, reg, "CLAIM-UNKNOWN-STATUS", domain.Claim{ID: "c-2", Status: "pending"}, nil); v == nil {
		t.Fatal("unknown status not flagged")
	}
}
