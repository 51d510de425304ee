package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"formy/api/dto"
	"formy/api/middleware"
	"formy/api/models"
	"formy/api/repository"
)

// TaskService is the orchestration façade behind the task endpoints.
type TaskService interface {
	CreateTask(ctx context.Context, ownerID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error)
	GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	ListTasks(ctx context.Context, ownerID string, page, pageSize int) (*dto.TaskListResponse, error)
	CancelTask(ctx context.Context, taskID string) error
	QueueStats(ctx context.Context) (*dto.QueueStatsResponse, error)
	QueueHealthy(ctx context.Context) bool
}

type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		logger:  logger,
	}
}

// Tasks dispatches /tasks: POST creates, GET lists for the caller.
func (h *TaskHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// TaskByID dispatches /tasks/{id} and /tasks/{id}/cancel.
func (h *TaskHandler) TaskByID(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if rest == "" {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	if taskID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.cancel(w, r, taskID)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.get(w, r, rest)
}

func (h *TaskHandler) create(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetUserID(r.Context())

	var req dto.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateTask(r.Context(), ownerID, &req)
	if err != nil {
		h.admissionError(w, err, traceID)
		return
	}

	h.logger.Info("Task created",
		zap.String("trace_id", traceID),
		zap.String("task_id", resp.ID),
		zap.String("mode", resp.Mode),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

// admissionError maps admission rejections onto their status codes:
// 402 with the credit detail, 429 with the concurrency detail.
func (h *TaskHandler) admissionError(w http.ResponseWriter, err error, traceID string) {
	var insufficient *repository.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		h.respondJSON(w, http.StatusPaymentRequired, dto.CreditErrorResponse{
			Error:    "Insufficient credits",
			Code:     "INSUFFICIENT_CREDITS",
			TraceID:  traceID,
			Required: insufficient.Required,
			Current:  insufficient.Current,
			Deficit:  insufficient.Deficit(),
		})
		return
	}

	var limited *repository.ConcurrencyLimitError
	if errors.As(err, &limited) {
		h.respondJSON(w, http.StatusTooManyRequests, dto.ConcurrencyErrorResponse{
			Error:   "Too many active tasks",
			Code:    "CONCURRENCY_LIMIT_EXCEEDED",
			TraceID: traceID,
			Current: limited.Current,
			Limit:   limited.Limit,
		})
		return
	}

	if errors.Is(err, repository.ErrAccountNotFound) {
		h.respondJSON(w, http.StatusPaymentRequired, dto.ErrorResponse{
			Error:   "No credit account; choose a plan first",
			Code:    "NO_CREDIT_ACCOUNT",
			TraceID: traceID,
		})
		return
	}

	if errors.Is(err, models.ErrUnknownMode) {
		h.handleError(w, "Unknown edit mode", err, traceID, http.StatusBadRequest)
		return
	}

	h.handleError(w, "Failed to create task", err, traceID, http.StatusInternalServerError)
}

func (h *TaskHandler) get(w http.ResponseWriter, r *http.Request, taskID string) {
	traceID := middleware.GetTraceID(r.Context())

	resp, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, dto.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) list(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetUserID(r.Context())

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	resp, err := h.service.ListTasks(r.Context(), ownerID, page, pageSize)
	if err != nil {
		h.handleError(w, "Failed to list tasks", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) cancel(w http.ResponseWriter, r *http.Request, taskID string) {
	traceID := middleware.GetTraceID(r.Context())

	err := h.service.CancelTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, dto.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		if errors.Is(err, repository.ErrInvalidTransition) {
			h.respondJSON(w, http.StatusConflict, dto.ErrorResponse{
				Error:   "Task already finished",
				Code:    "INVALID_TRANSITION",
				TraceID: traceID,
			})
			return
		}
		h.handleError(w, "Failed to cancel task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": string(models.StatusCancelled)})
}

// Stats serves /stats with queue depth by status.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	resp, err := h.service.QueueStats(r.Context())
	if err != nil {
		h.handleError(w, "Failed to get queue stats", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// Health reports queue connectivity; degraded state is 503 but the
// process stays up.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.service.QueueHealthy(r.Context()) {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "queue": "down"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
