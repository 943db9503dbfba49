package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"claimcheck/internal/config"
	"claimcheck/internal/domain"
	"claimcheck/internal/events"
	"claimcheck/internal/repo"
	"claimcheck/internal/rules"
	"claimcheck/internal/source"
)

// Engine evaluates the rule set against a claim snapshot and persists
// failures idempotently. Aggregation lives in report.go and reads the same
// store with the same injected weight table.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Registry  *rules.Registry
	Source    source.RecordSource
	Providers rules.ProviderLookup
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	reg, err := rules.Builtin()
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Registry:  reg,
		Source:    source.DBRecordSource{Repo: r},
		Providers: source.DBProviderLookup{Repo: r},
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run executes every enabled rule against the current claim snapshot.
// Configuration problems (missing weights) fail before anything is
// evaluated or persisted. Rules run in parallel; each rule's failure batch
// commits in its own transaction, so cancellation between rules never
// leaves a half-written batch behind.
func (e Engine) Run(ctx context.Context, actorID string) (domain.Run, error) {
	if e.Config == nil {
		return domain.Run{}, errors.New("config not loaded")
	}
	weights := e.Config.WeightTable()
	if err := weights.Validate(e.Registry); err != nil {
		return domain.Run{}, err
	}
	active := e.Registry.List(e.Config.DisabledRules())

	claims, err := e.Source.FetchAll(ctx)
	if err != nil {
		return domain.Run{}, fmt.Errorf("fetch claims: %w", err)
	}

	run := domain.Run{
		ID:             uuid.New().String(),
		RulesEvaluated: len(active),
		RecordsScanned: len(claims),
		StartedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.appendEvent(ctx, "run.started", "run", run.ID, actorID, events.EventPayload{
		"rules":   len(active),
		"records": len(claims),
	}); err != nil {
		return domain.Run{}, err
	}

	var newFailures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.Parallelism())
	for _, rule := range active {
		rule := rule
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch := e.evaluateRule(gctx, rule, claims)
			n, err := e.insertBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			newFailures.Add(int64(n))
			return nil
		})
	}
	runErr := g.Wait()

	run.NewFailures = int(newFailures.Load())
	run.FinishedAt = e.now().UTC().Format(time.RFC3339)
	run.Status = "completed"
	eventType := "run.completed"
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			return domain.Run{}, runErr
		}
		run.Status = "canceled"
		eventType = "run.canceled"
	}
	// Record the run outcome even for canceled runs; committed rule batches
	// stay valid because every insert is idempotent.
	recordCtx := context.WithoutCancel(ctx)
	if err := e.Repo.InsertRun(recordCtx, run); err != nil {
		return domain.Run{}, err
	}
	if err := e.appendEvent(recordCtx, eventType, "run", run.ID, actorID, events.EventPayload{
		"new_failures": run.NewFailures,
		"records":      run.RecordsScanned,
	}); err != nil {
		return domain.Run{}, err
	}
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

// evaluateRule scans every claim once. A predicate that errors on a record
// yields a Diagnostic entry for that (rule, record) pair and the scan
// continues; one malformed record never aborts the batch.
func (e Engine) evaluateRule(ctx context.Context, rule rules.Rule, claims []domain.Claim) []domain.ValidationFailure {
	detectedAt := e.now().UTC().Format(time.RFC3339)
	var batch []domain.ValidationFailure
	for _, c := range claims {
		violation, err := rule.Check(ctx, c, e.Providers)
		if err != nil {
			batch = append(batch, domain.ValidationFailure{
				RuleID:     rule.ID,
				RuleName:   rule.Name,
				Category:   rules.CategoryDiagnostic,
				Severity:   rule.Severity,
				RecordID:   c.ID,
				Reason:     "predicate error: " + err.Error(),
				DetectedAt: detectedAt,
			})
			continue
		}
		if violation == nil {
			continue
		}
		batch = append(batch, domain.ValidationFailure{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Category:   rule.Category,
			Severity:   rule.Severity,
			RecordID:   c.ID,
			Reason:     violation.Reason,
			DetectedAt: detectedAt,
		})
	}
	return batch
}

func (e Engine) insertBatch(ctx context.Context, batch []domain.ValidationFailure) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.InsertFailuresTx(ctx, tx, batch)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Reset clears the failure log. This is the explicit out-of-band operation;
// normal runs only ever append.
func (e Engine) Reset(ctx context.Context, actorID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.ClearFailuresTx(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "failures.reset", "batch", "", actorID, events.EventPayload{"removed": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
