// Package repository persists the generation log. Postgres backs it in
// production; an in-memory ring covers deployments without a database.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// GenerationRecord is one row of the generation log.
type GenerationRecord struct {
	RequestID    string
	ClientKey    string
	Provider     string
	Model        string
	Mode         string
	Template     string
	Outcome      string
	ErrorCode    string
	Fallback     bool
	LatencyMs    int64
	Dependencies []string
	CreatedAt    time.Time
}

// GenerationLog records completed generations and answers the admin
// surface's recent-activity queries.
type GenerationLog interface {
	Record(ctx context.Context, record GenerationRecord) error
	Recent(ctx context.Context, limit int) ([]GenerationRecord, error)
}

type PostgresGenerationLog struct {
	db *sql.DB
}

func NewPostgresGenerationLog(db *sql.DB) *PostgresGenerationLog {
	return &PostgresGenerationLog{db: db}
}

// Migrate creates the generation log table when it does not exist yet.
func (r *PostgresGenerationLog) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS generation_log (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			client_key TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			mode TEXT NOT NULL,
			template TEXT,
			outcome TEXT NOT NULL,
			error_code TEXT,
			fallback BOOLEAN NOT NULL DEFAULT FALSE,
			latency_ms BIGINT NOT NULL,
			dependencies TEXT[],
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate generation_log: %w", err)
	}
	return nil
}

func (r *PostgresGenerationLog) Record(ctx context.Context, record GenerationRecord) error {
	query := `
		INSERT INTO generation_log (request_id, client_key, provider, model, mode, template, outcome, error_code, fallback, latency_ms, dependencies, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		record.RequestID,
		record.ClientKey,
		record.Provider,
		record.Model,
		record.Mode,
		record.Template,
		record.Outcome,
		record.ErrorCode,
		record.Fallback,
		record.LatencyMs,
		pq.Array(record.Dependencies),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation record: %w", err)
	}
	return nil
}

func (r *PostgresGenerationLog) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	query := `
		SELECT request_id, client_key, provider, model, mode, template, outcome, error_code, fallback, latency_ms, dependencies, created_at
		FROM generation_log
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query generation log: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		var record GenerationRecord
		var template, errorCode sql.NullString
		var deps pq.StringArray
		err := rows.Scan(
			&record.RequestID,
			&record.ClientKey,
			&record.Provider,
			&record.Model,
			&record.Mode,
			&template,
			&record.Outcome,
			&errorCode,
			&record.Fallback,
			&record.LatencyMs,
			&deps,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan generation record: %w", err)
		}
		record.Template = template.String
		record.ErrorCode = errorCode.String
		record.Dependencies = []string(deps)
		records = append(records, record)
	}

	return records, rows.Err()
}

// CountByOutcome aggregates the log since a cutoff, for the admin surface.
func (r *PostgresGenerationLog) CountByOutcome(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM generation_log
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = count
	}

	return counts, rows.Err()
}
