package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"formy/worker/kafka"
	"formy/worker/model"
	"formy/worker/pipeline"
	"formy/worker/pool"
	"formy/worker/repository"
)

type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Push(ctx context.Context, taskID string) error
}

type StatusCache interface {
	Set(ctx context.Context, taskID, status string, progress int, step string) error
}

// Processor drains the task queue and drives each task through its
// pipeline, owning every state transition on the worker side.
type Processor struct {
	queue      Queue
	repo       repository.Repository
	cache      StatusCache
	producer   kafka.Producer
	topic      string
	resolver   *pipeline.Resolver
	pool       *pool.WorkerPool
	popTimeout time.Duration
	logger     *zap.Logger
}

func NewProcessor(
	queue Queue,
	repo repository.Repository,
	cache StatusCache,
	producer kafka.Producer,
	topic string,
	resolver *pipeline.Resolver,
	workers int,
	popTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		queue:      queue,
		repo:       repo,
		cache:      cache,
		producer:   producer,
		topic:      topic,
		resolver:   resolver,
		pool:       pool.NewWorkerPool(workers),
		popTimeout: popTimeout,
		logger:     logger,
	}
}

// Run pops task ids until the context ends. A pool slot is taken
// before each pop, so an id only leaves the queue when a worker can
// start it at once; everything else stays queued in submission order
// for this or any other worker instance. A pop timeout is not an
// error, just an empty queue.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Processor stopping, waiting for in-flight tasks")
			p.pool.Wait()
			return
		default:
		}

		if !p.pool.Acquire(ctx) {
			continue
		}

		taskID, err := p.queue.Pop(ctx, p.popTimeout)
		if err != nil {
			p.pool.Release()
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("Queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if taskID == "" {
			p.pool.Release()
			continue
		}

		p.pool.Go(ctx, taskID, p.Process)
	}
}

// RecoverStuck requeues tasks a crashed worker left in processing.
// Called once at startup before the run loop.
func (p *Processor) RecoverStuck(ctx context.Context, age time.Duration) error {
	ids, err := p.repo.RequeueStuck(ctx, age)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.queue.Push(ctx, id); err != nil {
			p.logger.Error("Failed to requeue stuck task",
				zap.String("task_id", id), zap.Error(err))
			continue
		}
		p.logger.Warn("Requeued stuck task", zap.String("task_id", id))
	}
	if len(ids) > 0 {
		p.logger.Info("Stuck task recovery finished", zap.Int("requeued", len(ids)))
	}
	return nil
}

// Process executes one task end to end. Queue deliveries can repeat
// after a recovery, so anything not pending is skipped here.
func (p *Processor) Process(ctx context.Context, taskID string) {
	logger := p.logger.With(zap.String("task_id", taskID))

	task, err := p.repo.Load(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			logger.Warn("Queued task no longer exists")
			return
		}
		logger.Error("Failed to load task", zap.Error(err))
		return
	}

	if task.Status != model.StatusPending {
		logger.Info("Skipping task not in pending state",
			zap.String("status", task.Status))
		return
	}

	if err := p.repo.MarkProcessing(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			logger.Info("Task left pending before pickup, skipping")
			return
		}
		logger.Error("Failed to mark task processing", zap.Error(err))
		return
	}
	p.setCache(ctx, taskID, model.StatusProcessing, 0, "")

	pl, err := p.resolver.Resolve(task.Mode)
	if err != nil {
		logger.Error("No pipeline for task mode", zap.String("mode", task.Mode))
		p.fail(ctx, task, "UNKNOWN_MODE", "no pipeline registered for mode "+task.Mode)
		return
	}

	logger.Info("Executing task", zap.String("mode", task.Mode))

	result := pl.Execute(ctx, pipeline.Input{
		TaskID:      task.ID,
		SourceImage: task.SourceImage,
		Config:      task.Config,
	}, &writeThroughSink{
		taskID: taskID,
		repo:   p.repo,
		cache:  p.cache,
		ctx:    ctx,
	})

	switch {
	case result.Success:
		p.complete(ctx, task, result)
	case result.ErrorCode == pipeline.ErrCodeCancelled:
		// The admission side already settled the record; nothing to
		// persist here.
		logger.Info("Task cancelled during execution")
	default:
		p.fail(ctx, task, result.ErrorCode, result.ErrorMessage)
	}
}

func (p *Processor) complete(ctx context.Context, task *model.Task, result pipeline.Result) {
	logger := p.logger.With(zap.String("task_id", task.ID))

	err := p.repo.Complete(ctx, task.ID, &model.Result{
		OutputImage: result.OutputImage,
		Thumbnail:   result.Thumbnail,
		Metadata:    result.Metadata,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			logger.Info("Task cancelled before completion could be recorded")
			return
		}
		logger.Error("Failed to record completion", zap.Error(err))
		return
	}

	p.setCache(ctx, task.ID, model.StatusDone, 100, "")
	p.publish(ctx, task, kafka.EventTaskCompleted, model.StatusDone, "")
	logger.Info("Task completed")
}

func (p *Processor) fail(ctx context.Context, task *model.Task, code, message string) {
	logger := p.logger.With(zap.String("task_id", task.ID))

	if err := p.repo.Fail(ctx, task.ID, code, message); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			logger.Info("Task already settled, skipping failure record")
			return
		}
		logger.Error("Failed to record failure", zap.Error(err))
		return
	}

	// task was loaded while still pending; re-read so the cached
	// snapshot keeps the last persisted milestone.
	progress := task.Progress
	if current, err := p.repo.Load(ctx, task.ID); err == nil {
		progress = current.Progress
	}
	p.setCache(ctx, task.ID, model.StatusFailed, progress, "")
	p.publish(ctx, task, kafka.EventTaskFailed, model.StatusFailed, code)
	logger.Warn("Task failed",
		zap.String("code", code), zap.String("message", message))
}

func (p *Processor) setCache(ctx context.Context, taskID, status string, progress int, step string) {
	if err := p.cache.Set(ctx, taskID, status, progress, step); err != nil {
		p.logger.Warn("Failed to update status cache",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func (p *Processor) publish(ctx context.Context, task *model.Task, eventType, status, errorCode string) {
	if p.producer == nil {
		return
	}
	event := &kafka.TaskEvent{
		Type:            eventType,
		TaskID:          task.ID,
		OwnerID:         task.OwnerID,
		Mode:            task.Mode,
		Status:          status,
		CreditsConsumed: task.CreditsConsumed,
		ErrorCode:       errorCode,
		At:              time.Now().UTC(),
	}
	if err := p.producer.SendTaskEvent(ctx, p.topic, event); err != nil {
		p.logger.Warn("Failed to publish task event",
			zap.String("task_id", task.ID), zap.String("type", eventType), zap.Error(err))
	}
}

// writeThroughSink persists each milestone and mirrors it into the
// status cache. A progress write rejected because the task left the
// processing state surfaces as a cancellation to the pipeline.
type writeThroughSink struct {
	taskID string
	repo   repository.Repository
	cache  StatusCache
	ctx    context.Context
}

func (s *writeThroughSink) Report(percent int, label string) error {
	if err := s.repo.UpdateProgress(s.ctx, s.taskID, percent, label); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrTaskNotFound) {
			return pipeline.ErrCancelled
		}
		return err
	}
	// Cache staleness self-heals on the next milestone.
	_ = s.cache.Set(s.ctx, s.taskID, model.StatusProcessing, percent, label)
	return nil
}
