package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"claimcheck/internal/domain"
	"claimcheck/internal/events"
	"claimcheck/internal/repo"
)

// Importer loads batch claim and provider data from CSV files into the
// workspace database. This is the external-collaborator surface the engine
// consumes; it performs no rule logic of its own.
type Importer struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func (i Importer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// ImportClaims reads claims from CSV with a header row:
// id,patient_id,provider_id,amount,service_date,admission_date,discharge_date,status
// Empty cells become absent fields so completeness rules can see them.
func (i Importer) ImportClaims(ctx context.Context, r io.Reader, actorID string) (int, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return 0, err
	}
	col, err := columnIndex(header, "id", "patient_id", "provider_id", "amount", "service_date", "admission_date", "discharge_date", "status")
	if err != nil {
		return 0, err
	}
	importedAt := i.now().UTC().Format(time.RFC3339)
	tx, err := i.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	count := 0
	for line, rec := range records {
		id := field(rec, col["id"])
		if id == "" {
			return 0, fmt.Errorf("claims csv line %d: id required", line+2)
		}
		c := domain.Claim{
			ID:            id,
			PatientID:     field(rec, col["patient_id"]),
			ProviderID:    optional(field(rec, col["provider_id"])),
			ServiceDate:   optional(field(rec, col["service_date"])),
			AdmissionDate: optional(field(rec, col["admission_date"])),
			DischargeDate: optional(field(rec, col["discharge_date"])),
			Status:        field(rec, col["status"]),
			ImportedAt:    importedAt,
		}
		if raw := field(rec, col["amount"]); raw != "" {
			amount, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return 0, fmt.Errorf("claims csv line %d: amount %q: %w", line+2, raw, err)
			}
			c.Amount = &amount
		}
		if err := i.Repo.InsertClaimTx(ctx, tx, c); err != nil {
			return 0, fmt.Errorf("claims csv line %d: %w", line+2, err)
		}
		count++
	}
	if err := i.Events.Append(ctx, tx, "claims.imported", "batch", "", actorID, events.EventPayload{"count": count}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// ImportProviders reads provider master data from CSV with a header row:
// id,name,specialty,active
func (i Importer) ImportProviders(ctx context.Context, r io.Reader, actorID string) (int, error) {
	records, header, err := readCSV(r)
	if err != nil {
		return 0, err
	}
	col, err := columnIndex(header, "id", "name", "specialty", "active")
	if err != nil {
		return 0, err
	}
	createdAt := i.now().UTC().Format(time.RFC3339)
	tx, err := i.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	count := 0
	for line, rec := range records {
		id := field(rec, col["id"])
		if id == "" {
			return 0, fmt.Errorf("providers csv line %d: id required", line+2)
		}
		active := true
		if raw := field(rec, col["active"]); raw != "" {
			active, err = strconv.ParseBool(raw)
			if err != nil {
				return 0, fmt.Errorf("providers csv line %d: active %q: %w", line+2, raw, err)
			}
		}
		p := domain.Provider{
			ID:        id,
			Name:      field(rec, col["name"]),
			Specialty: field(rec, col["specialty"]),
			Active:    active,
			CreatedAt: createdAt,
		}
		if err := i.Repo.UpsertProviderTx(ctx, tx, p); err != nil {
			return 0, fmt.Errorf("providers csv line %d: %w", line+2, err)
		}
		count++
	}
	if err := i.Events.Append(ctx, tx, "providers.imported", "batch", "", actorID, events.EventPayload{"count": count}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func readCSV(r io.Reader) ([][]string, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("csv is empty")
	}
	return all[1:], all[0], nil
}

func columnIndex(header []string, names ...string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for idx, name := range header {
		byName[strings.TrimSpace(strings.ToLower(name))] = idx
	}
	col := make(map[string]int, len(names))
	for _, name := range names {
		idx, ok := byName[name]
		if !ok {
			if name == "id" {
				return nil, fmt.Errorf("csv missing required column %s", name)
			}
			idx = -1
		}
		col[name] = idx
	}
	return col, nil
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
