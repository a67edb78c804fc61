package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/eduboard/leaderboard-api/internal/models"
)

// MetricsRepository persists aggregated counters and serves the computed
// leaderboards.
type MetricsRepository interface {
	ResolveTeacherIDs(ctx context.Context, names []string) (map[string]string, error)
	UpsertTeacherMetrics(ctx context.Context, rows []models.TeacherMetrics) error
	UpsertBranchMetrics(ctx context.Context, rows []models.BranchMetrics) error
	RecomputeScores(ctx context.Context) error
	ListTeacherScores(ctx context.Context, limit int) ([]models.TeacherScore, error)
	ListBranchScores(ctx context.Context, limit int) ([]models.BranchScore, error)
}

type metricsRepository struct {
	db *sql.DB
}

func NewMetricsRepository(db *sql.DB) MetricsRepository {
	return &metricsRepository{db: db}
}

// ResolveTeacherIDs maps display names to profile ids by exact full-name
// match against the staff directory. Names with no match are simply absent
// from the result.
func (r *metricsRepository) ResolveTeacherIDs(ctx context.Context, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}

	const query = `
		SELECT user_id, full_name
		FROM profiles
		WHERE full_name = ANY($1) AND role = 'Teacher'
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]string, len(names))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, rows.Err()
}

// UpsertTeacherMetrics writes the whole batch in one transaction so a
// partially applied run never becomes visible.
func (r *metricsRepository) UpsertTeacherMetrics(ctx context.Context, metrics []models.TeacherMetrics) error {
	const query = `
		INSERT INTO teacher_metrics (
			teacher_id, teacher_name, branch_name, branch_id,
			retention_total, retention_active, trial_total, trial_converted,
			updated_by, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (teacher_id) DO UPDATE SET
			teacher_name     = EXCLUDED.teacher_name,
			branch_name      = EXCLUDED.branch_name,
			branch_id        = EXCLUDED.branch_id,
			retention_total  = EXCLUDED.retention_total,
			retention_active = EXCLUDED.retention_active,
			trial_total      = EXCLUDED.trial_total,
			trial_converted  = EXCLUDED.trial_converted,
			updated_by       = EXCLUDED.updated_by,
			updated_at       = now()
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx,
			m.TeacherID,
			m.TeacherName,
			m.BranchName,
			m.BranchID,
			m.RetentionTotal,
			m.RetentionActive,
			m.TrialTotal,
			m.TrialConverted,
			m.UpdatedBy,
		); err != nil {
			return errors.Wrapf(err, "upsert metrics for teacher %s", m.TeacherID)
		}
	}

	return tx.Commit()
}

func (r *metricsRepository) UpsertBranchMetrics(ctx context.Context, metrics []models.BranchMetrics) error {
	const query = `
		INSERT INTO branch_metrics (
			branch_name, retention_total, retention_active,
			trial_total, trial_converted, updated_by, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (branch_name) DO UPDATE SET
			retention_total  = EXCLUDED.retention_total,
			retention_active = EXCLUDED.retention_active,
			trial_total      = EXCLUDED.trial_total,
			trial_converted  = EXCLUDED.trial_converted,
			updated_by       = EXCLUDED.updated_by,
			updated_at       = now()
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx,
			m.BranchName,
			m.RetentionTotal,
			m.RetentionActive,
			m.TrialTotal,
			m.TrialConverted,
			m.UpdatedBy,
		); err != nil {
			return errors.Wrapf(err, "upsert metrics for branch %s", m.BranchName)
		}
	}

	return tx.Commit()
}

// RecomputeScores regenerates both leaderboards from the current counter
// rows inside the database.
func (r *metricsRepository) RecomputeScores(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `SELECT recompute_current_scores()`)
	return err
}

func (r *metricsRepository) ListTeacherScores(ctx context.Context, limit int) ([]models.TeacherScore, error) {
	const query = `
		SELECT
			teacher_id, teacher_name, branch_name,
			retention_total, retention_active, trial_total, trial_converted,
			retention_percentage, conversion_percentage, combined_percentage,
			rank, computed_at
		FROM teacher_scores
		ORDER BY rank
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make([]models.TeacherScore, 0, limit)
	for rows.Next() {
		var s models.TeacherScore
		if err := rows.Scan(
			&s.TeacherID,
			&s.TeacherName,
			&s.BranchName,
			&s.RetentionTotal,
			&s.RetentionActive,
			&s.TrialTotal,
			&s.TrialConverted,
			&s.RetentionPercentage,
			&s.ConversionPercentage,
			&s.CombinedPercentage,
			&s.Rank,
			&s.ComputedAt,
		); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

func (r *metricsRepository) ListBranchScores(ctx context.Context, limit int) ([]models.BranchScore, error) {
	const query = `
		SELECT
			branch_name,
			retention_total, retention_active, trial_total, trial_converted,
			retention_percentage, conversion_percentage, combined_percentage,
			rank, computed_at
		FROM branch_scores
		ORDER BY rank
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make([]models.BranchScore, 0, limit)
	for rows.Next() {
		var s models.BranchScore
		if err := rows.Scan(
			&s.BranchName,
			&s.RetentionTotal,
			&s.RetentionActive,
			&s.TrialTotal,
			&s.TrialConverted,
			&s.RetentionPercentage,
			&s.ConversionPercentage,
			&s.CombinedPercentage,
			&s.Rank,
			&s.ComputedAt,
		); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
