package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/savetest-backend/internal/model"
)

// TaskSettingsRepository stores per-task test settings.
type TaskSettingsRepository struct {
	pool *pgxpool.Pool
}

func NewTaskSettingsRepository(pool *pgxpool.Pool) *TaskSettingsRepository {
	return &TaskSettingsRepository{pool: pool}
}

func (r *TaskSettingsRepository) Get(ctx context.Context, taskID int64) (*model.TaskTestSettings, error) {
	s := &model.TaskTestSettings{}
	err := r.pool.QueryRow(ctx,
		`SELECT task_id, has_test, restrict_attempts, delay_restart_minutes, retake_on_resubmit, updated_at
		 FROM task_test_settings WHERE task_id = $1`, taskID,
	).Scan(&s.TaskID, &s.HasTest, &s.RestrictAttempts, &s.DelayRestartMinutes, &s.RetakeOnResubmit, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *TaskSettingsRepository) Upsert(ctx context.Context, s *model.TaskTestSettings) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO task_test_settings
			(task_id, has_test, restrict_attempts, delay_restart_minutes, retake_on_resubmit)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (task_id) DO UPDATE
		 SET has_test = EXCLUDED.has_test,
		     restrict_attempts = EXCLUDED.restrict_attempts,
		     delay_restart_minutes = EXCLUDED.delay_restart_minutes,
		     retake_on_resubmit = EXCLUDED.retake_on_resubmit,
		     updated_at = NOW()
		 RETURNING updated_at`,
		s.TaskID, s.HasTest, s.RestrictAttempts, s.DelayRestartMinutes, s.RetakeOnResubmit,
	).Scan(&s.UpdatedAt)
}
