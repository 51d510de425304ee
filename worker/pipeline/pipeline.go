package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"formy/worker/engine"
)

// ErrCancelled is returned by a ProgressSink when the task left the
// processing state underneath the pipeline. The run stops and no
// failure is recorded.
var ErrCancelled = errors.New("task cancelled")

const (
	ErrCodeEngineFailure    = "ENGINE_FAILURE"
	ErrCodeExecutionTimeout = "EXECUTION_TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ProgressSink receives milestone updates while a pipeline runs.
// Implementations persist them; returning ErrCancelled aborts the run.
type ProgressSink interface {
	Report(percent int, label string) error
}

type Input struct {
	TaskID      string
	SourceImage string
	Config      json.RawMessage
}

// Result is the outcome of one pipeline run. Exactly one of the
// success fields or the error fields is meaningful.
type Result struct {
	Success      bool
	OutputImage  string
	Thumbnail    string
	Metadata     map[string]any
	ErrorCode    string
	ErrorMessage string
}

type Pipeline interface {
	Mode() string
	Execute(ctx context.Context, input Input, sink ProgressSink) Result
}

// Thumbnailer renders a small preview for a finished output image.
type Thumbnailer interface {
	Render(ctx context.Context, taskID, imageRef string) (string, error)
}

// Resolver maps edit modes to their pipelines.
type Resolver struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

func NewResolver() *Resolver {
	return &Resolver{pipelines: make(map[string]Pipeline)}
}

func (r *Resolver) Register(p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Mode()] = p
}

func (r *Resolver) Resolve(mode string) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[mode]
	if !ok {
		return nil, fmt.Errorf("no pipeline for mode %q", mode)
	}
	return p, nil
}

// base carries the shared collaborators and stage plumbing for the
// concrete pipelines.
type base struct {
	registry *engine.Registry
	thumbs   Thumbnailer
	logger   *zap.Logger
	mode     string
}

// runStage resolves and executes the engine bound to one stage. An
// unbound stage is a no-op pass-through so a partially configured
// catalog degrades instead of failing every task.
func (b *base) runStage(ctx context.Context, stage string, input map[string]any) (map[string]any, error) {
	eng, err := b.registry.Resolve(b.mode, stage)
	if errors.Is(err, engine.ErrEngineNotFound) {
		b.logger.Warn("No engine bound to stage, passing through",
			zap.String("pipeline", b.mode), zap.String("stage", stage))
		return input, nil
	}
	if err != nil {
		return nil, err
	}

	output, err := eng.Execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", stage, err)
	}
	return output, nil
}

// report forwards a milestone and normalizes the cancellation signal.
func report(sink ProgressSink, percent int, label string) error {
	if err := sink.Report(percent, label); err != nil {
		if errors.Is(err, ErrCancelled) {
			return ErrCancelled
		}
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

func failure(err error) Result {
	switch {
	case errors.Is(err, ErrCancelled):
		return Result{ErrorCode: ErrCodeCancelled, ErrorMessage: "task cancelled during execution"}
	case errors.Is(err, engine.ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return Result{ErrorCode: ErrCodeExecutionTimeout, ErrorMessage: err.Error()}
	default:
		return Result{ErrorCode: ErrCodeEngineFailure, ErrorMessage: err.Error()}
	}
}

// recoverPanic converts a panicking stage into a failure result so one
// bad task never takes a worker down.
func recoverPanic(logger *zap.Logger, taskID string, result *Result) {
	if p := recover(); p != nil {
		logger.Error("Pipeline panicked",
			zap.String("task_id", taskID), zap.Any("panic", p))
		*result = Result{
			ErrorCode:    ErrCodeInternal,
			ErrorMessage: fmt.Sprintf("pipeline panic: %v", p),
		}
	}
}

// outputImage pulls the primary image reference out of an engine's
// output map, trying the shapes the supported engine kinds produce.
func outputImage(outputs map[string]any, fallback string) string {
	if s, ok := outputs["output_image"].(string); ok && s != "" {
		return s
	}
	if s, ok := outputs["image_url"].(string); ok && s != "" {
		return s
	}
	switch images := outputs["images"].(type) {
	case []engine.Artifact:
		if len(images) > 0 {
			return images[0].URL
		}
	case []any:
		if len(images) > 0 {
			if info, ok := images[0].(map[string]any); ok {
				if s, _ := info["url"].(string); s != "" {
					return s
				}
			}
			if art, ok := images[0].(engine.Artifact); ok {
				return art.URL
			}
		}
	}
	return fallback
}

// renderThumbnail is best effort: a failed render reuses the output
// image so the task still completes.
func (b *base) renderThumbnail(ctx context.Context, taskID, image string) string {
	if b.thumbs == nil {
		return image
	}
	thumb, err := b.thumbs.Render(ctx, taskID, image)
	if err != nil {
		b.logger.Warn("Thumbnail render failed",
			zap.String("task_id", taskID), zap.Error(err))
		return image
	}
	return thumb
}
