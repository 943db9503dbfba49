package repo

import (
	"context"
	"database/sql"
	"errors"

	"claimcheck/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

// --- claims ---

func (r Repo) InsertClaimTx(ctx context.Context, tx *sql.Tx, c domain.Claim) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO claims(id, patient_id, provider_id, amount, service_date, admission_date, discharge_date, status, imported_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, nullable(c.PatientID), c.ProviderID, c.Amount, c.ServiceDate, c.AdmissionDate, c.DischargeDate, nullable(c.Status), c.ImportedAt)
	return err
}

func (r Repo) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, COALESCE(patient_id,''), provider_id, amount, service_date, admission_date, discharge_date, COALESCE(status,''), imported_at
FROM claims WHERE id=?`, id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClaims(ctx context.Context) ([]domain.Claim, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(patient_id,''), provider_id, amount, service_date, admission_date, discharge_date, COALESCE(status,''), imported_at
FROM claims ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountClaims(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM claims`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (domain.Claim, error) {
	var c domain.Claim
	err := row.Scan(&c.ID, &c.PatientID, &c.ProviderID, &c.Amount, &c.ServiceDate, &c.AdmissionDate, &c.DischargeDate, &c.Status, &c.ImportedAt)
	return c, err
}

// --- providers ---

func (r Repo) UpsertProviderTx(ctx context.Context, tx *sql.Tx, p domain.Provider) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO providers(id, name, specialty, active, created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, specialty=excluded.specialty, active=excluded.active`,
		p.ID, nullable(p.Name), nullable(p.Specialty), boolToInt(p.Active), p.CreatedAt)
	return err
}

func (r Repo) GetProvider(ctx context.Context, id string) (domain.Provider, error) {
	var p domain.Provider
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id, COALESCE(name,''), COALESCE(specialty,''), active, created_at FROM providers WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Specialty, &active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Active = active != 0
	return p, nil
}

func (r Repo) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(name,''), COALESCE(specialty,''), active, created_at FROM providers ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Provider
	for rows.Next() {
		var p domain.Provider
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Specialty, &active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Active = active != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- runs ---

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id, status, rules_evaluated, records_scanned, new_failures, started_at, finished_at)
VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.Status, run.RulesEvaluated, run.RecordsScanned, run.NewFailures, run.StartedAt, nullable(run.FinishedAt))
	return err
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, status, rules_evaluated, records_scanned, new_failures, started_at, COALESCE(finished_at,'')
FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.Status, &run.RulesEvaluated, &run.RecordsScanned, &run.NewFailures, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json
FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT max(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) TailEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json
FROM (SELECT * FROM events ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
