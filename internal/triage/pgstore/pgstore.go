// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/traceback/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/traceback/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage results in PostgreSQL. The pool is owned by the
// caller.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const resultColumns = `id, fingerprint, status, question, priority, incident_brief,
	impact_assessment, sources, blast_radius, dashboards, recommended_actions, error,
	stages, created_at, completed_at, duration_s, input_tokens, output_tokens, model`

// Get retrieves a triage result by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Result, bool, error) {
	return s.queryOne(ctx, "pgstore.Get",
		`SELECT `+resultColumns+` FROM triage_runs WHERE id = $1`, id)
}

// GetByFingerprint retrieves the most recent triage result for a fingerprint.
func (s *Store) GetByFingerprint(ctx context.Context, fingerprint string) (*triage.Result, bool, error) {
	return s.queryOne(ctx, "pgstore.GetByFingerprint",
		`SELECT `+resultColumns+` FROM triage_runs WHERE fingerprint = $1 ORDER BY created_at DESC LIMIT 1`,
		fingerprint)
}

func (s *Store) queryOne(ctx context.Context, spanName, query string, arg string) (*triage.Result, bool, error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	r, err := scanResult(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Put inserts or updates a triage result.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("triage.id", r.ID),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertResult(ctx, tx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// jsonColumns marshals the slice-valued fields of r in column order.
func jsonColumns(r *triage.Result) ([][]byte, error) {
	values := []struct {
		name string
		v    any
	}{
		{"sources", orEmpty(r.Sources)},
		{"blast_radius", orEmpty(r.BlastRadius)},
		{"dashboards", orEmpty(r.Dashboards)},
		{"recommended_actions", orEmpty(r.RecommendedActions)},
		{"stages", stagesOrEmpty(r.Stages)},
	}
	out := make([][]byte, len(values))
	for i, c := range values {
		b, err := json.Marshal(c.v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", c.name, err)
		}
		out[i] = b
	}
	return out, nil
}

func upsertResult(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	cols, err := jsonColumns(r)
	if err != nil {
		return err
	}

	var completedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}

	query := `INSERT INTO triage_runs (` + resultColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	ON CONFLICT (id) DO UPDATE SET
		fingerprint         = EXCLUDED.fingerprint,
		status              = EXCLUDED.status,
		question            = EXCLUDED.question,
		priority            = EXCLUDED.priority,
		incident_brief      = EXCLUDED.incident_brief,
		impact_assessment   = EXCLUDED.impact_assessment,
		sources             = EXCLUDED.sources,
		blast_radius        = EXCLUDED.blast_radius,
		dashboards          = EXCLUDED.dashboards,
		recommended_actions = EXCLUDED.recommended_actions,
		error               = EXCLUDED.error,
		stages              = EXCLUDED.stages,
		completed_at        = EXCLUDED.completed_at,
		duration_s          = EXCLUDED.duration_s,
		input_tokens        = EXCLUDED.input_tokens,
		output_tokens       = EXCLUDED.output_tokens,
		model               = EXCLUDED.model`

	_, err = tx.Exec(ctx, query,
		r.ID, r.Fingerprint, string(r.Status), r.Question, r.Priority, r.Brief,
		r.ImpactAssessment, cols[0], cols[1], cols[2], cols[3], r.Error,
		cols[4], r.CreatedAt, completedAt, r.Duration, r.InputTokensUsed, r.OutputTokensUsed,
		r.Model,
	)
	if err != nil {
		return fmt.Errorf("upsert triage %s: %w", r.ID, err)
	}
	return nil
}

// scanResult scans a single row into a triage.Result.
// Returns (nil, nil) when no row is found.
func scanResult(row pgx.Row) (*triage.Result, error) {
	var (
		r                                          triage.Result
		status                                     string
		sources, blast, dashboards, actions, stage []byte
		completedAt                                *time.Time
	)

	err := row.Scan(
		&r.ID, &r.Fingerprint, &status, &r.Question, &r.Priority, &r.Brief,
		&r.ImpactAssessment, &sources, &blast, &dashboards, &actions, &r.Error,
		&stage, &r.CreatedAt, &completedAt, &r.Duration, &r.InputTokensUsed, &r.OutputTokensUsed,
		&r.Model,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.Status = triage.Status(status)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}

	targets := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"sources", sources, &r.Sources},
		{"blast_radius", blast, &r.BlastRadius},
		{"dashboards", dashboards, &r.Dashboards},
		{"recommended_actions", actions, &r.RecommendedActions},
		{"stages", stage, &r.Stages},
	}
	for _, t := range targets {
		if len(t.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(t.raw, t.dst); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", t.name, err)
		}
	}

	// blast_radius is always present in API output, even when empty.
	if r.BlastRadius == nil {
		r.BlastRadius = []string{}
	}
	return &r, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func stagesOrEmpty(s []triage.StageOutcome) []triage.StageOutcome {
	if s == nil {
		return []triage.StageOutcome{}
	}
	return s
}
