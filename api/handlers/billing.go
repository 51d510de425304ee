package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"formy/api/dto"
	"formy/api/middleware"
	"formy/api/repository"
	"formy/api/service"
)

type BillingService interface {
	Info(ctx context.Context, userID string) (*dto.BillingInfoResponse, error)
	ChangePlan(ctx context.Context, userID, planID string) (*dto.ChangePlanResponse, error)
	TopUp(ctx context.Context, userID string, amount int) (*dto.TopUpResponse, error)
}

type BillingHandler struct {
	service BillingService
	logger  *zap.Logger
}

func NewBillingHandler(service BillingService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{service: service, logger: logger}
}

func (h *BillingHandler) Me(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	resp, err := h.service.Info(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.handleError(w, "No credit account", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get billing info", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	var req dto.ChangePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.ChangePlan(r.Context(), userID, req.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownPlan) {
			h.respondJSON(w, http.StatusBadRequest, dto.ErrorResponse{
				Error:   "Unknown plan",
				Code:    "UNKNOWN_PLAN",
				TraceID: traceID,
			})
			return
		}
		h.handleError(w, "Failed to change plan", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *BillingHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	userID := middleware.GetUserID(r.Context())

	var req dto.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		h.handleError(w, "Amount must be positive", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.TopUp(r.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.handleError(w, "No credit account", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to add credits", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *BillingHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *BillingHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
