package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"formy/worker/engine"
	"formy/worker/model"
)

type headSwapConfig struct {
	HeadSwap *struct {
		ReferenceImage string  `json:"reference_image"`
		BlendStrength  float64 `json:"blend_strength"`
	} `json:"head_swap"`
}

// HeadSwapPipeline replaces the head in the source image with the one
// from a reference image. Stages: detect_faces, swap_faces, blend.
type HeadSwapPipeline struct {
	base
}

func NewHeadSwapPipeline(registry *engine.Registry, thumbs Thumbnailer, logger *zap.Logger) *HeadSwapPipeline {
	return &HeadSwapPipeline{base{
		registry: registry,
		thumbs:   thumbs,
		logger:   logger,
		mode:     model.ModeHeadSwap,
	}}
}

func (p *HeadSwapPipeline) Mode() string { return model.ModeHeadSwap }

func (p *HeadSwapPipeline) Execute(ctx context.Context, input Input, sink ProgressSink) (result Result) {
	defer recoverPanic(p.logger, input.TaskID, &result)

	var cfg headSwapConfig
	if err := json.Unmarshal(input.Config, &cfg); err != nil || cfg.HeadSwap == nil {
		return Result{ErrorCode: ErrCodeInternal, ErrorMessage: "malformed head_swap config"}
	}

	if err := report(sink, 10, "loading images"); err != nil {
		return failure(err)
	}

	blend := cfg.HeadSwap.BlendStrength
	if blend == 0 {
		blend = 0.8
	}
	payload := map[string]any{
		"task_id":         input.TaskID,
		"source_image":    input.SourceImage,
		"reference_image": cfg.HeadSwap.ReferenceImage,
		"blend_strength":  blend,
	}

	if err := report(sink, 30, "detecting faces"); err != nil {
		return failure(err)
	}
	detected, err := p.runStage(ctx, "detect_faces", payload)
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 55, "swapping faces"); err != nil {
		return failure(err)
	}
	swapped, err := p.runStage(ctx, "swap_faces", merge(payload, detected))
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 80, "blending result"); err != nil {
		return failure(err)
	}
	blended, err := p.runStage(ctx, "blend", merge(payload, swapped))
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 95, "saving output"); err != nil {
		return failure(err)
	}
	output := outputImage(blended, input.SourceImage)

	return Result{
		Success:     true,
		OutputImage: output,
		Thumbnail:   p.renderThumbnail(ctx, input.TaskID, output),
		Metadata: map[string]any{
			"mode":           model.ModeHeadSwap,
			"blend_strength": fmt.Sprintf("%.2f", blend),
		},
	}
}

// merge layers a stage's output over the running payload so later
// stages see both the original inputs and upstream results.
func merge(payload, outputs map[string]any) map[string]any {
	next := make(map[string]any, len(payload)+len(outputs))
	for k, v := range payload {
		next[k] = v
	}
	for k, v := range outputs {
		next[k] = v
	}
	if img := outputImage(outputs, ""); img != "" {
		next["source_image"] = img
	}
	return next
}
