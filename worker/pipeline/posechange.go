package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"formy/worker/engine"
	"formy/worker/model"
)

type poseChangeConfig struct {
	PoseChange *struct {
		TargetPose    string  `json:"target_pose"`
		PoseReference string  `json:"pose_reference"`
		PreserveFace  bool    `json:"preserve_face"`
		Smoothness    float64 `json:"smoothness"`
	} `json:"pose_change"`
}

// PoseChangePipeline re-poses the subject of the source image to match
// a named pose or a reference image. The longest pipeline: extract_pose,
// generate, refine.
type PoseChangePipeline struct {
	base
}

func NewPoseChangePipeline(registry *engine.Registry, thumbs Thumbnailer, logger *zap.Logger) *PoseChangePipeline {
	return &PoseChangePipeline{base{
		registry: registry,
		thumbs:   thumbs,
		logger:   logger,
		mode:     model.ModePoseChange,
	}}
}

func (p *PoseChangePipeline) Mode() string { return model.ModePoseChange }

func (p *PoseChangePipeline) Execute(ctx context.Context, input Input, sink ProgressSink) (result Result) {
	defer recoverPanic(p.logger, input.TaskID, &result)

	var cfg poseChangeConfig
	if err := json.Unmarshal(input.Config, &cfg); err != nil || cfg.PoseChange == nil {
		return Result{ErrorCode: ErrCodeInternal, ErrorMessage: "malformed pose_change config"}
	}

	if err := report(sink, 10, "loading image"); err != nil {
		return failure(err)
	}

	payload := map[string]any{
		"task_id":        input.TaskID,
		"source_image":   input.SourceImage,
		"target_pose":    cfg.PoseChange.TargetPose,
		"pose_reference": cfg.PoseChange.PoseReference,
		"preserve_face":  cfg.PoseChange.PreserveFace,
		"smoothness":     cfg.PoseChange.Smoothness,
	}

	if err := report(sink, 25, "extracting pose"); err != nil {
		return failure(err)
	}
	extracted, err := p.runStage(ctx, "extract_pose", payload)
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 40, "preparing reference"); err != nil {
		return failure(err)
	}

	if err := report(sink, 55, "generating pose"); err != nil {
		return failure(err)
	}
	generated, err := p.runStage(ctx, "generate", merge(payload, extracted))
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 75, "refining result"); err != nil {
		return failure(err)
	}
	refined, err := p.runStage(ctx, "refine", merge(payload, generated))
	if err != nil {
		return failure(err)
	}

	if err := report(sink, 90, "saving output"); err != nil {
		return failure(err)
	}
	output := outputImage(refined, input.SourceImage)

	return Result{
		Success:     true,
		OutputImage: output,
		Thumbnail:   p.renderThumbnail(ctx, input.TaskID, output),
		Metadata: map[string]any{
			"mode":          model.ModePoseChange,
			"preserve_face": cfg.PoseChange.PreserveFace,
		},
	}
}
