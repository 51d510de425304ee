package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"formy/api/cache"
	"formy/api/dto"
	"formy/api/kafka"
	"formy/api/models"
	"formy/api/repository"
)

// TaskQueue is the FIFO the service enqueues admitted task ids into.
type TaskQueue interface {
	Push(ctx context.Context, taskID string) error
	Length(ctx context.Context) (int64, error)
	HealthCheck(ctx context.Context) bool
}

// StatusCache is the fast path for status polling.
type StatusCache interface {
	Get(ctx context.Context, taskID string) (*cache.StatusSnapshot, error)
	Set(ctx context.Context, taskID string, snap cache.StatusSnapshot) error
}

type TaskService struct {
	repo      repository.TaskRepository
	ledger    repository.LedgerRepository
	cache     StatusCache
	queue     TaskQueue
	producer  kafka.Producer
	topic     string
	maxActive int
	logger    *zap.Logger
}

func NewTaskService(
	repo repository.TaskRepository,
	ledger repository.LedgerRepository,
	cache StatusCache,
	queue TaskQueue,
	producer kafka.Producer,
	topic string,
	maxActive int,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		repo:      repo,
		ledger:    ledger,
		cache:     cache,
		queue:     queue,
		producer:  producer,
		topic:     topic,
		maxActive: maxActive,
		logger:    logger,
	}
}

// CreateTask admits, prices, persists and enqueues a new task. Admission
// rejections (credits, concurrency) surface typed errors and leave no
// state behind.
func (s *TaskService) CreateTask(ctx context.Context, ownerID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
	mode, err := models.ParseEditMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if req.SourceImage == "" {
		return nil, errors.New("source_image is required")
	}
	if err := req.Config.Validate(mode); err != nil {
		return nil, err
	}

	cost, err := models.CostFor(mode, req.Config.Quality, req.Config.Size)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Mode:            mode,
		SourceImage:     req.SourceImage,
		Config:          req.Config,
		CreditsConsumed: cost,
	}

	if err := s.repo.CreateAdmitted(ctx, task, s.maxActive); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, task.ID, cache.StatusSnapshot{Status: models.StatusPending}); err != nil {
		s.logger.Warn("status cache write failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	if err := s.queue.Push(ctx, task.ID); err != nil {
		// The record exists but no worker will ever see it; fail it and
		// give the credits back rather than strand a pending task.
		s.failUnqueued(ctx, task, err)
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	s.publish(ctx, &kafka.TaskEvent{
		Type:            kafka.EventTaskCreated,
		TaskID:          task.ID,
		OwnerID:         ownerID,
		Mode:            string(mode),
		Status:          string(models.StatusPending),
		CreditsConsumed: cost,
		At:              time.Now().UTC(),
	})

	s.logger.Info("task admitted",
		zap.String("task_id", task.ID),
		zap.String("owner_id", ownerID),
		zap.String("mode", string(mode)),
		zap.Int("credits_consumed", cost),
	)

	return toResponse(task), nil
}

func (s *TaskService) failUnqueued(ctx context.Context, task *models.Task, cause error) {
	taskErr := &models.TaskError{Code: "QUEUE_UNAVAILABLE", Message: "task could not be queued"}
	processing := models.StatusProcessing
	// The state machine only reaches failed through processing.
	if err := s.repo.UpdateStatus(ctx, task.ID, processing, repository.StatusUpdate{}); err != nil {
		s.logger.Error("mark unqueued task processing failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if err := s.repo.UpdateStatus(ctx, task.ID, models.StatusFailed, repository.StatusUpdate{Error: taskErr}); err != nil {
		s.logger.Error("mark unqueued task failed failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if err := s.ledger.Refund(ctx, task.OwnerID, task.CreditsConsumed); err != nil {
		s.logger.Error("refund for unqueued task failed",
			zap.String("task_id", task.ID), zap.Int("amount", task.CreditsConsumed), zap.Error(err))
	}
	s.logger.Warn("task failed before queueing",
		zap.String("task_id", task.ID), zap.Error(cause))
}

// GetTask serves live tasks from the status cache when possible and
// falls back to the store for full records.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	if snap, err := s.cache.Get(ctx, taskID); err == nil && !snap.Status.Terminal() {
		return &dto.TaskResponse{
			ID:       taskID,
			Status:   string(snap.Status),
			Progress: snap.Progress,
			Step:     snap.Step,
		}, nil
	}

	task, err := s.repo.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, dto.ErrTaskNotFound
		}
		return nil, err
	}

	if err := s.cache.Set(ctx, task.ID, cache.StatusSnapshot{
		Status:   task.Status,
		Progress: task.Progress,
		Step:     task.Step,
	}); err != nil {
		s.logger.Warn("status cache write failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	return toResponse(task), nil
}

func (s *TaskService) ListTasks(ctx context.Context, ownerID string, page, pageSize int) (*dto.TaskListResponse, error) {
	tasks, err := s.repo.List(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, err
	}

	resp := &dto.TaskListResponse{Page: page, PageSize: pageSize, Tasks: make([]*dto.TaskResponse, 0, len(tasks))}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, toResponse(task))
	}
	return resp, nil
}

// CancelTask cancels a live task. A task that never started processing
// is refunded in full; one cancelled mid-flight keeps its debit since
// engine side effects are not rolled back.
func (s *TaskService) CancelTask(ctx context.Context, taskID string) error {
	wasPending, credits, ownerID, err := s.repo.Cancel(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return dto.ErrTaskNotFound
		}
		return err
	}

	if err := s.cache.Set(ctx, taskID, cache.StatusSnapshot{Status: models.StatusCancelled}); err != nil {
		s.logger.Warn("status cache write failed", zap.String("task_id", taskID), zap.Error(err))
	}

	if wasPending && credits > 0 {
		if err := s.ledger.Refund(ctx, ownerID, credits); err != nil {
			s.logger.Error("refund for cancelled task failed",
				zap.String("task_id", taskID), zap.Int("amount", credits), zap.Error(err))
		}
	}

	s.publish(ctx, &kafka.TaskEvent{
		Type:    kafka.EventTaskCancelled,
		TaskID:  taskID,
		OwnerID: ownerID,
		Status:  string(models.StatusCancelled),
		At:      time.Now().UTC(),
	})

	s.logger.Info("task cancelled",
		zap.String("task_id", taskID), zap.Bool("refunded", wasPending && credits > 0))
	return nil
}

func (s *TaskService) QueueStats(ctx context.Context) (*dto.QueueStatsResponse, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return &dto.QueueStatsResponse{
		Pending:    counts[models.StatusPending],
		Processing: counts[models.StatusProcessing],
		Total:      total,
	}, nil
}

func (s *TaskService) QueueHealthy(ctx context.Context) bool {
	return s.queue.HealthCheck(ctx)
}

func (s *TaskService) publish(ctx context.Context, event *kafka.TaskEvent) {
	if err := s.producer.SendTaskEvent(ctx, s.topic, event); err != nil {
		s.logger.Warn("task event publish failed",
			zap.String("type", event.Type), zap.String("task_id", event.TaskID), zap.Error(err))
	}
}

func toResponse(task *models.Task) *dto.TaskResponse {
	var completedAt *string
	if task.CompletedAt != nil {
		formatted := task.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &formatted
	}

	return &dto.TaskResponse{
		ID:              task.ID,
		OwnerID:         task.OwnerID,
		Mode:            string(task.Mode),
		Status:          string(task.Status),
		Progress:        task.Progress,
		Step:            task.Step,
		CreditsConsumed: task.CreditsConsumed,
		Result:          task.Result,
		Error:           task.Error,
		CreatedAt:       task.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:     completedAt,
	}
}
