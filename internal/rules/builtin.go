package rules

import (
	"context"
	"fmt"
	"time"

	"claimcheck/internal/domain"
)

const dateLayout = "2006-01-02"

// Builtin returns the default claim ruleset. Rule ids are stable; disabling
// is done through config, never by editing this list mid-run.
func Builtin() (*Registry, error) {
	reg := NewRegistry()
	builtins := []Rule{
		{
			ID:       "CLAIM-MISSING-PROVIDER",
			Name:     "Claim has no provider reference",
			Category: CategoryCompleteness,
			Severity: SeverityHigh,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				if c.ProviderID == nil || *c.ProviderID == "" {
					return &Violation{Reason: "provider_id_missing"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-MISSING-AMOUNT",
			Name:     "Claim has no billed amount",
			Category: CategoryCompleteness,
			Severity: SeverityMedium,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				if c.Amount == nil {
					return &Violation{Reason: "amount_missing"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-MISSING-SERVICE-DATE",
			Name:     "Claim has no service date",
			Category: CategoryCompleteness,
			Severity: SeverityLow,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				if c.ServiceDate == nil || *c.ServiceDate == "" {
					return &Violation{Reason: "service_date_missing"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-NEGATIVE-AMOUNT",
			Name:     "Billed amount is negative",
			Category: CategoryValidity,
			Severity: SeverityHigh,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				// Strictly negative; a zero amount is not a violation here.
				if c.Amount != nil && *c.Amount < 0 {
					return &Violation{Reason: "amount_negative"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-UNKNOWN-STATUS",
			Name:     "Claim status outside allowed set",
			Category: CategoryValidity,
			Severity: SeverityLow,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				if c.Status == "" {
					return nil, nil
				}
				switch c.Status {
				case "submitted", "approved", "denied", "paid":
					return nil, nil
				}
				return &Violation{Reason: "status_unknown"}, nil
			},
		},
		{
			ID:       "CLAIM-DISCHARGE-BEFORE-ADMIT",
			Name:     "Discharge date precedes admission date",
			Category: CategoryConsistency,
			Severity: SeverityHigh,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				if c.AdmissionDate == nil || c.DischargeDate == nil {
					return nil, nil
				}
				admit, err := parseDate(*c.AdmissionDate)
				if err != nil {
					return nil, err
				}
				discharge, err := parseDate(*c.DischargeDate)
				if err != nil {
					return nil, err
				}
				// Same-day admit and discharge is fine.
				if discharge.Before(admit) {
					return &Violation{Reason: "discharge_before_admission"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-SERVICE-BEFORE-ADMIT",
			Name:     "Service date precedes admission date",
			Category: CategoryConsistency,
			Severity: SeverityMedium,
			Check: func(_ context.Context, c domain.Claim, _ ProviderLookup) (*Violation, error) {
				if c.ServiceDate == nil || c.AdmissionDate == nil {
					return nil, nil
				}
				service, err := parseDate(*c.ServiceDate)
				if err != nil {
					return nil, err
				}
				admit, err := parseDate(*c.AdmissionDate)
				if err != nil {
					return nil, err
				}
				if service.Before(admit) {
					return &Violation{Reason: "service_before_admission"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-UNKNOWN-PROVIDER",
			Name:     "Provider reference has no master record",
			Category: CategoryReferential,
			Severity: SeverityHigh,
			Check: func(ctx context.Context, c domain.Claim, providers ProviderLookup) (*Violation, error) {
				// A missing provider_id is a completeness concern, not a
				// referential one; only a dangling reference fails here.
				if c.ProviderID == nil || *c.ProviderID == "" {
					return nil, nil
				}
				p, err := providers.Get(ctx, *c.ProviderID)
				if err != nil {
					return nil, err
				}
				if p == nil {
					return &Violation{Reason: "provider_not_found"}, nil
				}
				return nil, nil
			},
		},
		{
			ID:       "CLAIM-INACTIVE-PROVIDER",
			Name:     "Provider exists but is inactive",
			Category: CategoryReferential,
			Severity: SeverityMedium,
			Check: func(ctx context.Context, c domain.Claim, providers ProviderLookup) (*Violation, error) {
				if c.ProviderID == nil || *c.ProviderID == "" {
					return nil, nil
				}
				p, err := providers.Get(ctx, *c.ProviderID)
				if err != nil {
					return nil, err
				}
				if p != nil && !p.Active {
					return &Violation{Reason: "provider_inactive"}, nil
				}
				return nil, nil
			},
		},
	}
	for _, rule := range builtins {
		if err := reg.Register(rule); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
