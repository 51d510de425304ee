package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"formy/api/database"
	"formy/api/models"
)

type PostgresLedgerRepo struct {
	db *database.DB
}

func NewPostgresLedgerRepo(db *database.DB) LedgerRepository {
	return &PostgresLedgerRepo{db: db}
}

func (r *PostgresLedgerRepo) Account(ctx context.Context, userID string) (*models.CreditAccount, error) {
	var acc models.CreditAccount
	err := r.db.Pool.QueryRow(ctx,
		`SELECT user_id, plan_id, credits_remaining, monthly_credits, credits_used, renews_at, updated_at
		 FROM credit_accounts WHERE user_id = $1`,
		userID,
	).Scan(&acc.UserID, &acc.PlanID, &acc.CreditsRemaining, &acc.MonthlyCredits,
		&acc.CreditsUsed, &acc.RenewsAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// Consume is a single conditional decrement, never read-then-write, so
// concurrent debits on a near-empty balance cannot both succeed.
func (r *PostgresLedgerRepo) Consume(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("consume amount must be positive, got %d", amount)
	}

	var remaining int
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE credit_accounts
		 SET credits_remaining = credits_remaining - $2,
		     credits_used = credits_used + $2,
		     updated_at = NOW()
		 WHERE user_id = $1 AND credits_remaining >= $2
		 RETURNING credits_remaining`,
		userID, amount,
	).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Either the account is missing or the balance fell short.
	acc, accErr := r.Account(ctx, userID)
	if accErr != nil {
		return 0, accErr
	}
	return 0, &InsufficientCreditsError{Required: amount, Current: acc.CreditsRemaining}
}

func (r *PostgresLedgerRepo) Add(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("add amount must be positive, got %d", amount)
	}

	var remaining int
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE credit_accounts
		 SET credits_remaining = credits_remaining + $2, updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING credits_remaining`,
		userID, amount,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return remaining, nil
}

func (r *PostgresLedgerRepo) Refund(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE credit_accounts
		 SET credits_remaining = credits_remaining + $2,
		     credits_used = GREATEST(credits_used - $2, 0),
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID, amount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ChangePlan resets the balance to the new plan's monthly allotment.
// Tasks already admitted keep their frozen credits_consumed.
func (r *PostgresLedgerRepo) ChangePlan(ctx context.Context, userID, planID string) (*models.CreditAccount, error) {
	plan, ok := models.PlanByID(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	var acc models.CreditAccount
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO credit_accounts (user_id, plan_id, credits_remaining, monthly_credits, credits_used, renews_at, updated_at)
		 VALUES ($1, $2, $3, $3, 0, NOW() + INTERVAL '1 month', NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET plan_id = $2,
		     credits_remaining = $3,
		     monthly_credits = $3,
		     renews_at = NOW() + INTERVAL '1 month',
		     updated_at = NOW()
		 RETURNING user_id, plan_id, credits_remaining, monthly_credits, credits_used, renews_at, updated_at`,
		userID, plan.ID, plan.MonthlyCredits,
	).Scan(&acc.UserID, &acc.PlanID, &acc.CreditsRemaining, &acc.MonthlyCredits,
		&acc.CreditsUsed, &acc.RenewsAt, &acc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("change plan: %w", err)
	}
	return &acc, nil
}
