package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/eduboard/leaderboard-api/internal/models"
)

// SyncLogRepository records sync run history.
type SyncLogRepository interface {
	MarkStarted(ctx context.Context, runID, initiatedBy string) (int64, error)
	MarkCompleted(ctx context.Context, logID int64, entry models.SyncLogEntry) error
	LastCompleted(ctx context.Context) (*models.SyncLogEntry, error)
	History(ctx context.Context, limit int) ([]models.SyncLogEntry, error)
}

type syncLogRepository struct {
	db *sql.DB
}

func NewSyncLogRepository(db *sql.DB) SyncLogRepository {
	return &syncLogRepository{db: db}
}

func (r *syncLogRepository) MarkStarted(ctx context.Context, runID, initiatedBy string) (int64, error) {
	const query = `
		INSERT INTO sync_log (run_id, started_at, initiated_by)
		VALUES ($1, now(), $2)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query, runID, initiatedBy).Scan(&id)
	return id, err
}

func (r *syncLogRepository) MarkCompleted(ctx context.Context, logID int64, entry models.SyncLogEntry) error {
	const query = `
		UPDATE sync_log
		SET completed_at      = $2,
		    success           = $3,
		    records_processed = $4,
		    records_updated   = $5,
		    errors            = $6,
		    warnings          = $7,
		    duration_ms       = $8
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		logID,
		entry.CompletedAt,
		entry.Success,
		entry.RecordsProcessed,
		entry.RecordsUpdated,
		pq.Array(entry.Errors),
		pq.Array(entry.Warnings),
		entry.DurationMs,
	)
	return err
}

// LastCompleted returns the most recent successful run, or nil when none
// has ever completed.
func (r *syncLogRepository) LastCompleted(ctx context.Context) (*models.SyncLogEntry, error) {
	const query = `
		SELECT id, run_id, started_at, completed_at, success,
		       records_processed, records_updated, errors, warnings,
		       initiated_by, duration_ms, created_at
		FROM sync_log
		WHERE success = TRUE AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`
	entry, err := scanSyncLogRow(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *syncLogRepository) History(ctx context.Context, limit int) ([]models.SyncLogEntry, error) {
	const query = `
		SELECT id, run_id, started_at, completed_at, success,
		       records_processed, records_updated, errors, warnings,
		       initiated_by, duration_ms, created_at
		FROM sync_log
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.SyncLogEntry, 0, limit)
	for rows.Next() {
		entry, err := scanSyncLogRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLogRow(row rowScanner) (models.SyncLogEntry, error) {
	var entry models.SyncLogEntry
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var errs, warnings pq.StringArray

	if err := row.Scan(
		&entry.ID,
		&entry.RunID,
		&entry.StartedAt,
		&completedAt,
		&entry.Success,
		&entry.RecordsProcessed,
		&entry.RecordsUpdated,
		&errs,
		&warnings,
		&entry.InitiatedBy,
		&durationMs,
		&entry.CreatedAt,
	); err != nil {
		return models.SyncLogEntry{}, err
	}

	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		entry.DurationMs = &durationMs.Int64
	}
	entry.Errors = []string(errs)
	entry.Warnings = []string(warnings)
	return entry, nil
}
