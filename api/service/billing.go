package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"formy/api/dto"
	"formy/api/models"
	"formy/api/repository"
)

var ErrAccountNotFound = errors.New("credit account not found")

type BillingService struct {
	ledger repository.LedgerRepository
	logger *zap.Logger
}

func NewBillingService(ledger repository.LedgerRepository, logger *zap.Logger) *BillingService {
	return &BillingService{ledger: ledger, logger: logger}
}

func (s *BillingService) Info(ctx context.Context, userID string) (*dto.BillingInfoResponse, error) {
	acc, err := s.ledger.Account(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	planName := acc.PlanID
	if plan, ok := models.PlanByID(acc.PlanID); ok {
		planName = plan.Name
	}

	return &dto.BillingInfoResponse{
		UserID:          acc.UserID,
		PlanID:          acc.PlanID,
		PlanName:        planName,
		Credits:         acc.CreditsRemaining,
		MonthlyCredits:  acc.MonthlyCredits,
		CreditsUsed:     acc.CreditsUsed,
		UsagePercentage: acc.UsagePercentage(),
		RenewsAt:        acc.RenewsAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *BillingService) ChangePlan(ctx context.Context, userID, planID string) (*dto.ChangePlanResponse, error) {
	acc, err := s.ledger.ChangePlan(ctx, userID, planID)
	if err != nil {
		return nil, err
	}

	planName := acc.PlanID
	if plan, ok := models.PlanByID(acc.PlanID); ok {
		planName = plan.Name
	}

	s.logger.Info("plan changed",
		zap.String("user_id", userID),
		zap.String("plan_id", acc.PlanID),
		zap.Int("credits", acc.CreditsRemaining),
	)

	return &dto.ChangePlanResponse{
		NewPlanID:   acc.PlanID,
		NewPlanName: planName,
		NewCredits:  acc.CreditsRemaining,
	}, nil
}

func (s *BillingService) TopUp(ctx context.Context, userID string, amount int) (*dto.TopUpResponse, error) {
	remaining, err := s.ledger.Add(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	s.logger.Info("credits added",
		zap.String("user_id", userID), zap.Int("amount", amount), zap.Int("remaining", remaining))

	return &dto.TopUpResponse{Credits: remaining}, nil
}
