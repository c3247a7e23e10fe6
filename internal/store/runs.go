package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kozaktomas/facecheck/internal/batch"
	"github.com/kozaktomas/facecheck/internal/constants"
	"github.com/kozaktomas/facecheck/internal/matcher"
)

// Run describes one verification batch.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Root       string
	ReportPath string
	Threshold  float64
	Mode       string
	Summary    batch.Summary
}

// RunRepository stores runs and their records.
type RunRepository struct {
	pool *Pool
}

// NewRunRepository creates a new run repository.
func NewRunRepository(pool *Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// SaveRun inserts the run and all of its records in one transaction.
// A zero run ID is replaced by a new random one, which is returned.
func (r *RunRepository) SaveRun(ctx context.Context, run Run, records []batch.Record) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Summary = batch.Summarize(records)

	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, root, report_path, threshold, mode,
			total, ok, matched, below_threshold, skipped, errored)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		run.ID, run.StartedAt, run.FinishedAt, run.Root, run.ReportPath, run.Threshold, run.Mode,
		run.Summary.Total, run.Summary.OK, run.Summary.Matched, run.Summary.BelowThreshold,
		run.Summary.Skipped, run.Summary.Errored,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("run_records",
		"run_id", "position", "subject_id", "passport_path", "selfie_path",
		"similarity", "match", "reason", "comparisons", "status"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("prepare record copy: %w", err)
	}

	for i, rec := range records {
		var similarity, match, reason, comparisons any
		if rec.Outcome != nil {
			similarity = rec.Outcome.Similarity
			match = rec.Outcome.Match
			reason = rec.Outcome.Reason
			comparisons = rec.Outcome.Comparisons
		}
		if _, err := stmt.ExecContext(ctx, run.ID.String(), i, rec.SubjectID, rec.PassportPath, rec.SelfiePath,
			similarity, match, reason, comparisons, rec.Status); err != nil {
			stmt.Close()
			return uuid.Nil, fmt.Errorf("copy record %s: %w", rec.SubjectID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return uuid.Nil, fmt.Errorf("flush records: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("close record copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}

	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, root, report_path, threshold, mode,
			total, ok, matched, below_threshold, skipped, errored
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.FinishedAt, &run.Root, &run.ReportPath, &run.Threshold, &run.Mode,
			&run.Summary.Total, &run.Summary.OK, &run.Summary.Matched, &run.Summary.BelowThreshold,
			&run.Summary.Skipped, &run.Summary.Errored,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Records returns the records of one run in their original order.
func (r *RunRepository) Records(ctx context.Context, runID uuid.UUID) ([]batch.Record, error) {
	var threshold float64
	err := r.pool.db.QueryRowContext(ctx, "SELECT threshold FROM runs WHERE id = $1", runID).Scan(&threshold)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT subject_id, passport_path, selfie_path, similarity, match, reason, comparisons, status
		FROM run_records
		WHERE run_id = $1
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []batch.Record
	for rows.Next() {
		var (
			rec         batch.Record
			similarity  sql.NullFloat64
			match       sql.NullBool
			reason      sql.NullString
			comparisons sql.NullInt64
		)
		if err := rows.Scan(&rec.SubjectID, &rec.PassportPath, &rec.SelfiePath,
			&similarity, &match, &reason, &comparisons, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if similarity.Valid {
			rec.Outcome = &matcher.Outcome{
				Similarity:  similarity.Float64,
				Match:       match.Bool,
				Reason:      reason.String,
				Threshold:   threshold,
				Comparisons: int(comparisons.Int64),
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
