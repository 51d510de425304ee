package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"formy/worker/model"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition means the task moved on (finished or was
	// cancelled) and this update must not apply.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Repository interface {
	Load(ctx context.Context, taskID string) (*model.Task, error)
	MarkProcessing(ctx context.Context, taskID string) error
	UpdateProgress(ctx context.Context, taskID string, progress int, step string) error
	Complete(ctx context.Context, taskID string, result *model.Result) error
	// Fail moves the task to failed and refunds its frozen debit in the
	// same transaction.
	Fail(ctx context.Context, taskID, code, message string) error
	// RequeueStuck resets tasks abandoned in processing (a crashed
	// worker) back to pending and returns their ids for re-enqueue.
	RequeueStuck(ctx context.Context, age time.Duration) ([]string, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Load(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, mode, status, progress, step, source_image, config, credits_consumed, created_at, updated_at
		 FROM tasks WHERE id = $1`,
		taskID,
	).Scan(&task.ID, &task.OwnerID, &task.Mode, &task.Status, &task.Progress, &task.Step,
		&task.SourceImage, &task.Config, &task.CreditsConsumed, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, taskID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		taskID, model.StatusProcessing, model.StatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, taskID)
	}
	return nil
}

// UpdateProgress only applies while the task is processing and progress
// is not moving backwards; anything else is a stale write.
func (r *PostgresRepo) UpdateProgress(ctx context.Context, taskID string, progress int, step string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET progress = $2, step = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4 AND progress <= $2`,
		taskID, progress, step, model.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, taskID)
	}
	return nil
}

func (r *PostgresRepo) Complete(ctx context.Context, taskID string, result *model.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, progress = 100, step = '', result = $3, updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1 AND status = $4`,
		taskID, model.StatusDone, data, model.StatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, taskID)
	}
	return nil
}

func (r *PostgresRepo) Fail(ctx context.Context, taskID, code, message string) error {
	data, err := json.Marshal(model.TaskError{Code: code, Message: message})
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		ownerID string
		credits int
	)
	err = tx.QueryRow(ctx,
		`UPDATE tasks
		 SET status = $2, error = $3, updated_at = NOW(), completed_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING owner_id, credits_consumed`,
		taskID, model.StatusFailed, data, model.StatusProcessing,
	).Scan(&ownerID, &credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.transitionError(ctx, taskID)
		}
		return err
	}

	if credits > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE credit_accounts
			 SET credits_remaining = credits_remaining + $2,
			     credits_used = GREATEST(credits_used - $2, 0),
			     updated_at = NOW()
			 WHERE user_id = $1`,
			ownerID, credits,
		)
		if err != nil {
			return fmt.Errorf("refund credits: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fail tx: %w", err)
	}
	return nil
}

func (r *PostgresRepo) RequeueStuck(ctx context.Context, age time.Duration) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE tasks
		 SET status = $1, progress = 0, step = '', updated_at = NOW()
		 WHERE status = $2 AND updated_at < NOW() - $3::interval
		 RETURNING id`,
		model.StatusPending, model.StatusProcessing, fmt.Sprintf("%d seconds", int(age.Seconds())),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) transitionError(ctx context.Context, taskID string) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task is %s", ErrInvalidTransition, status)
}
