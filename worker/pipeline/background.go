package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"formy/worker/engine"
	"formy/worker/model"
)

type backgroundConfig struct {
	BackgroundChange *struct {
		BackgroundType  string `json:"background_type"`
		BackgroundImage string `json:"background_image"`
	} `json:"background_change"`
}

// BackgroundChangePipeline segments the subject out of the source image
// and composites it over a new background. Stages: segment,
// replace_background.
type BackgroundChangePipeline struct {
	base
}

func NewBackgroundChangePipeline(registry *engine.Registry, thumbs Thumbnailer, logger *zap.Logger) *BackgroundChangePipeline {
	return &BackgroundChangePipeline{base{
		registry: registry,
		thumbs:   thumbs,
		logger:   logger,
		mode:     model.ModeBackgroundChange,
	}}
}

func (p *BackgroundChangePipeline) Mode() string { return model.ModeBackgroundChange }

func (p *BackgroundChangePipeline) Execute(ctx context.Context, input Input, sink ProgressSink) (result Result) {
	defer recoverPanic(p.logger, input.TaskID, &result)

	var cfg backgroundConfig
	if err := json.Unmarshal(input.Config, &cfg); err != nil || cfg.BackgroundChange == nil {
		return Result{ErrorCode: ErrCodeInternal, ErrorMessage: "malformed background_change config"}
	}

	if err := report(sink, 10, "loading image"); err != nil {
		return failure(err)
	}

	payload := map[string]any{
		"task_id":          input.TaskID,
		"source_image":     input.SourceImage,
		"background_type":  cfg.BackgroundChange.BackgroundType,
		"background_image": cfg.BackgroundChange.BackgroundImage,
	}

	if err := report(sink, 35, "segmenting subject"); err != nil {
		return failure(err)
	}
	segmented, err := p.runStage(ctx, "segment", payload)
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 65, "replacing background"); err != nil {
		return failure(err)
	}
	replaced, err := p.runStage(ctx, "replace_background", merge(payload, segmented))
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 90, "saving output"); err != nil {
		return failure(err)
	}
	output := outputImage(replaced, input.SourceImage)

	meta := map[string]any{"mode": model.ModeBackgroundChange}
	if cfg.BackgroundChange.BackgroundType != "" {
		meta["background_type"] = cfg.BackgroundChange.BackgroundType
	}

	return Result{
		Success:     true,
		OutputImage: output,
		Thumbnail:   p.renderThumbnail(ctx, input.TaskID, output),
		Metadata:    meta,
	}
}
