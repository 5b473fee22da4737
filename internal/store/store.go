package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/visualtrans/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no run matches the requested ID.
	ErrNotFound = errors.New("run not found")
	// ErrAmbiguous is returned when an ID prefix matches more than one run.
	ErrAmbiguous = errors.New("run ID prefix matches more than one run")
)

// Store keeps the history of finished localization runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the history table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS localization_runs (
			id TEXT PRIMARY KEY,
			image_name TEXT NOT NULL,
			image_sha256 TEXT NOT NULL,
			media_type TEXT NOT NULL,
			target_language TEXT NOT NULL,
			status TEXT NOT NULL,
			verdict TEXT,
			similarity DOUBLE PRECISION,
			error_message TEXT,
			report JSONB,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS localization_runs_finished_at_idx ON localization_runs (finished_at DESC);
		CREATE INDEX IF NOT EXISTS localization_runs_image_sha256_idx ON localization_runs (image_sha256);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordRun saves a finished run. Recording the same run twice overwrites the first row.
func (s *Store) RecordRun(ctx context.Context, rec types.RunRecord) error {
	var (
		verdict    *string
		similarity *float64
		report     *string
		errMsg     *string
	)
	if rec.Report != nil {
		raw, err := json.Marshal(rec.Report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		r := string(raw)
		report = &r
		if e := rec.Report.Evaluation; e != nil {
			v := string(e.Result)
			verdict = &v
			similarity = e.SemanticSimilarity
		}
	}
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO localization_runs
			(id, image_name, image_sha256, media_type, target_language, status,
			 verdict, similarity, error_message, report, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			verdict = EXCLUDED.verdict,
			similarity = EXCLUDED.similarity,
			error_message = EXCLUDED.error_message,
			report = EXCLUDED.report,
			finished_at = EXCLUDED.finished_at
	`, rec.RunID, rec.ImageName, rec.Fingerprint, rec.MediaType, string(rec.Language), string(rec.Status),
		verdict, similarity, errMsg, report, rec.StartedAt, rec.FinishedAt)
	return err
}

const selectRuns = `
	SELECT id, image_name, image_sha256, media_type, target_language, status,
	       error_message, report::text, started_at, finished_at
	FROM localization_runs`

// ListRuns returns the most recently finished runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, selectRuns+` ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// GetRun fetches one run by its full ID or a unique prefix of it.
func (s *Store) GetRun(ctx context.Context, id string) (*types.RunRecord, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	rows, err := s.pool.Query(ctx, selectRuns+` WHERE id = $1 OR id LIKE $2 ORDER BY (id = $1) DESC LIMIT 2`, id, escapeLike(id)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, ErrNotFound
	case found[0].RunID == id, len(found) == 1:
		return &found[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// Reset drops all application tables to clear the history.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS localization_runs CASCADE;`)
	return err
}

func scanRun(row pgx.Row) (types.RunRecord, error) {
	var (
		rec        types.RunRecord
		lang       string
		status     string
		errMsg     *string
		report     *string
		startedAt  time.Time
		finishedAt time.Time
	)
	if err := row.Scan(&rec.RunID, &rec.ImageName, &rec.Fingerprint, &rec.MediaType, &lang, &status,
		&errMsg, &report, &startedAt, &finishedAt); err != nil {
		return types.RunRecord{}, err
	}
	rec.Language = types.TargetLanguage(lang)
	rec.Status = types.RunStatus(status)
	rec.StartedAt = startedAt
	rec.FinishedAt = finishedAt
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	if report != nil {
		var r types.EvaluationReport
		if err := json.Unmarshal([]byte(*report), &r); err != nil {
			return types.RunRecord{}, fmt.Errorf("failed to decode stored report for %s: %w", rec.RunID, err)
		}
		rec.Report = &r
	}
	return rec, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
