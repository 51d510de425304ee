package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"formy/api/database"
	"formy/api/models"
)

type PostgresTaskRepo struct {
	db *database.DB
}

func NewPostgresTaskRepo(db *database.DB) TaskRepository {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, owner_id, mode, status, progress, step, source_image, config,
		result, error, credits_consumed, created_at, updated_at, completed_at`

func (r *PostgresTaskRepo) CreateAdmitted(ctx context.Context, task *models.Task, maxActive int) error {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin admission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The account row lock serializes concurrent admissions per user, so
	// the count check and the debit below cannot race with each other.
	var remaining int
	err = tx.QueryRow(ctx,
		`SELECT credits_remaining FROM credit_accounts WHERE user_id = $1 FOR UPDATE`,
		task.OwnerID,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lock account: %w", err)
	}

	var active int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE owner_id = $1 AND status IN ('pending', 'processing')`,
		task.OwnerID,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("count active tasks: %w", err)
	}
	if active >= maxActive {
		return &ConcurrencyLimitError{Current: active, Limit: maxActive}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE credit_accounts
		 SET credits_remaining = credits_remaining - $2,
		     credits_used = credits_used + $2,
		     updated_at = NOW()
		 WHERE user_id = $1 AND credits_remaining >= $2`,
		task.OwnerID, task.CreditsConsumed,
	)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &InsufficientCreditsError{Required: task.CreditsConsumed, Current: remaining}
	}

	cfg, err := task.ConfigJSON()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO tasks (id, owner_id, mode, status, progress, step, source_image, config, credits_consumed)
		 VALUES ($1, $2, $3, $4, 0, '', $5, $6, $7)
		 RETURNING created_at, updated_at`,
		task.ID, task.OwnerID, task.Mode, models.StatusPending, task.SourceImage, cfg, task.CreditsConsumed,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.Status = models.StatusPending

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit admission tx: %w", err)
	}
	return nil
}

func (r *PostgresTaskRepo) Get(ctx context.Context, id string) (*models.Task, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (r *PostgresTaskRepo) List(ctx context.Context, ownerID string, page, pageSize int) ([]*models.Task, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *PostgresTaskRepo) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, upd StatusUpdate) error {
	allowed := status.AllowedFrom()
	if allowed == nil {
		return fmt.Errorf("%w: no transition into %q", ErrInvalidTransition, status)
	}

	query := `UPDATE tasks SET status = $2, updated_at = NOW()`
	args := []any{id, status, allowed}
	idx := 4

	// Progress may only grow; the guard in WHERE enforces it.
	progressGuard := ""
	if upd.Progress != nil {
		query += fmt.Sprintf(", progress = $%d", idx)
		progressGuard = fmt.Sprintf(" AND progress <= $%d", idx)
		args = append(args, *upd.Progress)
		idx++
	}
	if upd.Step != nil {
		query += fmt.Sprintf(", step = $%d", idx)
		args = append(args, *upd.Step)
		idx++
	}
	if upd.Result != nil {
		data, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		query += fmt.Sprintf(", result = $%d", idx)
		args = append(args, data)
		idx++
	}
	if upd.Error != nil {
		data, err := json.Marshal(upd.Error)
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		query += fmt.Sprintf(", error = $%d", idx)
		args = append(args, data)
		idx++
	}
	if status.Terminal() {
		query += `, completed_at = NOW()`
	}

	query += ` WHERE id = $1 AND status = ANY($3)` + progressGuard

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var current models.TaskStatus
		err := r.db.Pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	return nil
}

func (r *PostgresTaskRepo) Cancel(ctx context.Context, id string) (bool, int, string, error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, 0, "", fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status  models.TaskStatus
		credits int
		ownerID string
	)
	err = tx.QueryRow(ctx,
		`SELECT status, credits_consumed, owner_id FROM tasks WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &credits, &ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, "", ErrTaskNotFound
		}
		return false, 0, "", err
	}

	if status.Terminal() {
		return false, 0, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.StatusCancelled)
	}

	_, err = tx.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = NOW(), completed_at = NOW() WHERE id = $1`,
		id, models.StatusCancelled,
	)
	if err != nil {
		return false, 0, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, "", fmt.Errorf("commit cancel tx: %w", err)
	}
	return status == models.StatusPending, credits, ownerID, nil
}

func (r *PostgresTaskRepo) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int64)
	for rows.Next() {
		var status models.TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task    models.Task
		cfg     []byte
		result  []byte
		taskErr []byte
	)
	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Mode,
		&task.Status,
		&task.Progress,
		&task.Step,
		&task.SourceImage,
		&cfg,
		&result,
		&taskErr,
		&task.CreditsConsumed,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &task.Config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if len(result) > 0 {
		task.Result = &models.TaskResult{}
		if err := json.Unmarshal(result, task.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if len(taskErr) > 0 {
		task.Error = &models.TaskError{}
		if err := json.Unmarshal(taskErr, task.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	return &task, nil
}
