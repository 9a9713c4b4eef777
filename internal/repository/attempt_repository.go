package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/savetest-backend/internal/model"
)

const attemptColumns = `id, seq, task_id, name, attempt_number, pass_status, exam_data,
	exam_result, state, attempted_at, created_at, updated_at`

// AttemptRepository handles test attempt data access on PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.Seq, &a.TaskID, &a.Name, &a.AttemptNumber, &a.PassStatus,
		&a.ExamData, &a.ExamResult, &a.State, &a.AttemptedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// orderColumn whitelists the ordering key; seq breaks created_at ties.
func orderColumn(o model.Ordering) string {
	if o == model.OrderByCreatedAt {
		return "created_at DESC, seq DESC"
	}
	return "seq DESC"
}

// Create inserts an attempt and fills in its generated columns.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_attempts
			(task_id, name, attempt_number, pass_status, exam_data, exam_result, state, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, seq, created_at, updated_at`,
		a.TaskID, a.Name, a.AttemptNumber, a.PassStatus, a.ExamData, a.ExamResult, a.State, a.AttemptedAt,
	).Scan(&a.ID, &a.Seq, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID retrieves a single attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id int64) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts WHERE id = $1`, id))
}

// Latest returns the most recent attempt matching q.
func (r *AttemptRepository) Latest(ctx context.Context, q model.LatestQuery) (*model.Attempt, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.TaskID != nil {
		args = append(args, *q.TaskID)
		where = append(where, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if q.CompletedOnly {
		args = append(args, model.AttemptStateCompleted)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + attemptColumns + ` FROM test_attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderColumn(q.OrderBy) + " LIMIT 1"

	return scanAttempt(r.pool.QueryRow(ctx, query, args...))
}

// List returns attempts newest first, with the total count for pagination.
func (r *AttemptRepository) List(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, int64, error) {
	baseQuery := ` FROM test_attempts WHERE 1=1`
	var args []interface{}

	if f.TaskID != nil {
		args = append(args, *f.TaskID)
		baseQuery += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if f.Completed != nil {
		args = append(args, model.AttemptStateCompleted)
		if *f.Completed {
			baseQuery += fmt.Sprintf(" AND state = $%d", len(args))
		} else {
			baseQuery += fmt.Sprintf(" AND state <> $%d", len(args))
		}
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + attemptColumns + baseQuery + ` ORDER BY seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, total, rows.Err()
}

// Update writes every mutable column of a.
func (r *AttemptRepository) Update(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE test_attempts
		 SET task_id = $1, name = $2, attempt_number = $3, pass_status = $4, exam_data = $5,
		     exam_result = $6, state = $7, attempted_at = $8, updated_at = NOW()
		 WHERE id = $9
		 RETURNING updated_at`,
		a.TaskID, a.Name, a.AttemptNumber, a.PassStatus, a.ExamData,
		a.ExamResult, a.State, a.AttemptedAt, a.ID,
	).Scan(&a.UpdatedAt)
	return notFound(err)
}

// SetState moves an attempt to state. Completed attempts are never moved back.
func (r *AttemptRepository) SetState(ctx context.Context, id int64, state model.AttemptState) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_attempts SET state = $1, updated_at = NOW()
		 WHERE id = $2 AND state <> $3`,
		state, id, model.AttemptStateCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExamData replaces only the exam payload and returns the updated row.
func (r *AttemptRepository) UpdateExamData(ctx context.Context, id int64, data model.ExamData) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE test_attempts SET exam_data = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+attemptColumns, data, id))
}

// Delete removes an attempt.
func (r *AttemptRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM test_attempts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
