package repository

import (
	"context"
	"errors"
	"fmt"

	"formy/api/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrAccountNotFound   = errors.New("credit account not found")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InsufficientCreditsError is an admission-time rejection; no state was
// changed when it is returned.
type InsufficientCreditsError struct {
	Required int
	Current  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, current %d, deficit %d",
		e.Required, e.Current, e.Deficit())
}

func (e *InsufficientCreditsError) Deficit() int {
	return e.Required - e.Current
}

// ConcurrencyLimitError is an admission-time rejection; the user already
// has the maximum number of live tasks.
type ConcurrencyLimitError struct {
	Current int
	Limit   int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit exceeded: %d of %d tasks active", e.Current, e.Limit)
}

// StatusUpdate carries the optional fields of a status mutation.
type StatusUpdate struct {
	Progress *int
	Step     *string
	Result   *models.TaskResult
	Error    *models.TaskError
}

type TaskRepository interface {
	// CreateAdmitted writes the task record only if the owner passes the
	// concurrency cap and the credit debit; rejections leave no state
	// behind and are typed (*InsufficientCreditsError,
	// *ConcurrencyLimitError).
	CreateAdmitted(ctx context.Context, task *models.Task, maxActive int) error
	Get(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, ownerID string, page, pageSize int) ([]*models.Task, error)
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, upd StatusUpdate) error
	// Cancel transitions a pending or processing task to cancelled and
	// reports whether it had started processing.
	Cancel(ctx context.Context, id string) (wasPending bool, creditsConsumed int, ownerID string, err error)
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
}

type LedgerRepository interface {
	Account(ctx context.Context, userID string) (*models.CreditAccount, error)
	// Consume atomically debits amount if the balance covers it; a debit
	// that would go negative is rejected entirely.
	Consume(ctx context.Context, userID string, amount int) (remaining int, err error)
	Add(ctx context.Context, userID string, amount int) (remaining int, err error)
	// Refund returns amount to the balance and unwinds the cumulative
	// usage counter.
	Refund(ctx context.Context, userID string, amount int) error
	ChangePlan(ctx context.Context, userID, planID string) (*models.CreditAccount, error)
}
