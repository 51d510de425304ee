package dto

import (
	"errors"

	"formy/api/models"
)

var ErrTaskNotFound = errors.New("task not found")

type CreateTaskRequest struct {
	Mode        string            `json:"mode"`
	SourceImage string            `json:"source_image"`
	Config      models.EditConfig `json:"config"`
}

type TaskResponse struct {
	ID              string             `json:"task_id"`
	OwnerID         string             `json:"owner_id,omitempty"`
	Mode            string             `json:"mode"`
	Status          string             `json:"status"`
	Progress        int                `json:"progress"`
	Step            string             `json:"current_step,omitempty"`
	CreditsConsumed int                `json:"credits_consumed,omitempty"`
	Result          *models.TaskResult `json:"result,omitempty"`
	Error           *models.TaskError  `json:"error,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
	CompletedAt     *string            `json:"completed_at,omitempty"`
}

type TaskListResponse struct {
	Tasks    []*TaskResponse `json:"tasks"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type UploadResponse struct {
	Image string `json:"image"`
}

type QueueStatsResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Total      int64 `json:"total_tasks"`
}

type BillingInfoResponse struct {
	UserID          string  `json:"user_id"`
	PlanID          string  `json:"current_plan_id"`
	PlanName        string  `json:"current_plan_name"`
	Credits         int     `json:"current_credits"`
	MonthlyCredits  int     `json:"monthly_credits"`
	CreditsUsed     int     `json:"total_credits_used"`
	UsagePercentage float64 `json:"credits_usage_percentage"`
	RenewsAt        string  `json:"plan_renew_at"`
}

type ChangePlanRequest struct {
	PlanID string `json:"plan_id"`
}

type ChangePlanResponse struct {
	NewPlanID   string `json:"new_plan_id"`
	NewPlanName string `json:"new_plan_name"`
	NewCredits  int    `json:"new_credits"`
}

type TopUpRequest struct {
	Amount int `json:"amount"`
}

type TopUpResponse struct {
	Credits int `json:"current_credits"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// CreditErrorResponse is the 402 body. The numeric fields carry no
// omitempty so a zero balance still reports "current": 0.
type CreditErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	TraceID  string `json:"trace_id,omitempty"`
	Required int    `json:"required"`
	Current  int    `json:"current"`
	Deficit  int    `json:"deficit"`
}

// ConcurrencyErrorResponse is the 429 body.
type ConcurrencyErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
}
