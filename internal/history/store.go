// Package history persists finished import jobs to Postgres so operators
// can answer "who imported what into this division, and how did it go"
// after the in-memory job has been cleaned up.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/classkit/roster/internal/importer"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id          UUID PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL,
	standard_id TEXT NOT NULL DEFAULT '',
	division_id TEXT NOT NULL,
	file_name   TEXT NOT NULL DEFAULT '',
	total_items INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS import_jobs_division_idx
	ON import_jobs (division_id, created_at DESC);
`

// Entry is one recorded import job.
type Entry struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	StandardID string    `json:"standardId,omitempty"`
	DivisionID string    `json:"divisionId"`
	FileName   string    `json:"fileName,omitempty"`
	TotalItems int       `json:"totalItems"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the Postgres-backed job history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// RecordJob stores a finished job. Implements importer.JobRecorder.
func (s *Store) RecordJob(ctx context.Context, res importer.Result, standardID, divisionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_jobs
			(id, mode, status, standard_id, division_id, file_name,
			 total_items, succeeded, failed, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		res.JobID, string(res.Mode), string(res.Phase), standardID, divisionID,
		res.FileName, res.TotalItems, res.Succeeded, res.Failed,
		textOrNull(res.Error), res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", res.JobID, err)
	}
	return nil
}

// ListByDivision returns the most recent entries for a division, newest
// first, capped at limit.
func (s *Store) ListByDivision(ctx context.Context, divisionID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, mode, status, standard_id, division_id, file_name,
		       total_items, succeeded, failed, error, duration_ms, created_at
		FROM import_jobs
		WHERE division_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		divisionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs for division %s: %w", divisionID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			id     pgtype.UUID
			errCol pgtype.Text
		)
		if err := rows.Scan(&id, &e.Mode, &e.Status, &e.StandardID, &e.DivisionID,
			&e.FileName, &e.TotalItems, &e.Succeeded, &e.Failed,
			&errCol, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		if id.Valid {
			e.ID = uuidString(id)
		}
		if errCol.Valid {
			e.Error = errCol.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func uuidString(u pgtype.UUID) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		u.Bytes[0:4], u.Bytes[4:6], u.Bytes[6:8], u.Bytes[8:10], u.Bytes[10:16])
}
