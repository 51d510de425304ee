package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusDone       TaskStatus = "done"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AllowedFrom returns the set of statuses a task may be in for a
// transition into s to be valid. Processing allows a self-transition so
// progress updates stay in-state.
func (s TaskStatus) AllowedFrom() []string {
	switch s {
	case StatusProcessing:
		return []string{string(StatusPending), string(StatusProcessing)}
	case StatusDone, StatusFailed:
		return []string{string(StatusProcessing)}
	case StatusCancelled:
		return []string{string(StatusPending), string(StatusProcessing)}
	}
	return nil
}

type EditMode string

const (
	ModeHeadSwap         EditMode = "head_swap"
	ModeBackgroundChange EditMode = "background_change"
	ModePoseChange       EditMode = "pose_change"
)

var ErrUnknownMode = errors.New("unknown edit mode")

func ParseEditMode(s string) (EditMode, error) {
	switch EditMode(s) {
	case ModeHeadSwap, ModeBackgroundChange, ModePoseChange:
		return EditMode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityUltra    Quality = "ultra"
)

func (q Quality) Multiplier() (float64, bool) {
	switch q {
	case "", QualityStandard:
		return 1.0, true
	case QualityHigh:
		return 1.5, true
	case QualityUltra:
		return 2.0, true
	}
	return 0, false
}

type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

func (s Size) Multiplier() (float64, bool) {
	switch s {
	case SizeSmall:
		return 1.0, true
	case "", SizeMedium:
		return 1.2, true
	case SizeLarge:
		return 1.5, true
	}
	return 0, false
}

// BaseCost is the per-mode credit price before quality and size scaling.
var BaseCost = map[EditMode]int{
	ModeHeadSwap:         40,
	ModeBackgroundChange: 30,
	ModePoseChange:       50,
}

// CostFor prices a task. The figure is computed once at admission and
// frozen on the task record; later plan changes never reprice a task.
func CostFor(mode EditMode, quality Quality, size Size) (int, error) {
	base, ok := BaseCost[mode]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	qm, ok := quality.Multiplier()
	if !ok {
		return 0, fmt.Errorf("invalid quality %q", quality)
	}
	sm, ok := size.Multiplier()
	if !ok {
		return 0, fmt.Errorf("invalid size %q", size)
	}
	return int(math.Ceil(float64(base) * qm * sm)), nil
}

type HeadSwapConfig struct {
	ReferenceImage string  `json:"reference_image"`
	BlendStrength  float64 `json:"blend_strength,omitempty"`
}

func (c *HeadSwapConfig) Validate() error {
	if c.ReferenceImage == "" {
		return errors.New("head_swap: reference_image is required")
	}
	if c.BlendStrength < 0 || c.BlendStrength > 1 {
		return errors.New("head_swap: blend_strength must be within [0, 1]")
	}
	return nil
}

type BackgroundChangeConfig struct {
	BackgroundType  string `json:"background_type,omitempty"`
	BackgroundImage string `json:"background_image,omitempty"`
}

func (c *BackgroundChangeConfig) Validate() error {
	if c.BackgroundType == "" && c.BackgroundImage == "" {
		return errors.New("background_change: background_type or background_image is required")
	}
	return nil
}

type PoseChangeConfig struct {
	TargetPose    string  `json:"target_pose,omitempty"`
	PoseReference string  `json:"pose_reference,omitempty"`
	PreserveFace  bool    `json:"preserve_face,omitempty"`
	Smoothness    float64 `json:"smoothness,omitempty"`
}

func (c *PoseChangeConfig) Validate() error {
	if c.TargetPose == "" && c.PoseReference == "" {
		return errors.New("pose_change: target_pose or pose_reference is required")
	}
	return nil
}

// EditConfig is the tagged per-mode configuration. The variant matching
// the task's mode must be set and no other; quality and size are shared
// knobs that feed the cost model.
type EditConfig struct {
	Quality          Quality                 `json:"quality,omitempty"`
	Size             Size                    `json:"size,omitempty"`
	HeadSwap         *HeadSwapConfig         `json:"head_swap,omitempty"`
	BackgroundChange *BackgroundChangeConfig `json:"background_change,omitempty"`
	PoseChange       *PoseChangeConfig       `json:"pose_change,omitempty"`
}

func (c *EditConfig) Validate(mode EditMode) error {
	if _, ok := c.Quality.Multiplier(); !ok {
		return fmt.Errorf("invalid quality %q", c.Quality)
	}
	if _, ok := c.Size.Multiplier(); !ok {
		return fmt.Errorf("invalid size %q", c.Size)
	}

	variants := 0
	if c.HeadSwap != nil {
		variants++
	}
	if c.BackgroundChange != nil {
		variants++
	}
	if c.PoseChange != nil {
		variants++
	}
	if variants > 1 {
		return errors.New("exactly one mode config may be set")
	}

	switch mode {
	case ModeHeadSwap:
		if c.HeadSwap == nil {
			return errors.New("head_swap config is required")
		}
		return c.HeadSwap.Validate()
	case ModeBackgroundChange:
		if c.BackgroundChange == nil {
			return errors.New("background_change config is required")
		}
		return c.BackgroundChange.Validate()
	case ModePoseChange:
		if c.PoseChange == nil {
			return errors.New("pose_change config is required")
		}
		return c.PoseChange.Validate()
	}
	return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

type TaskResult struct {
	OutputImage string         `json:"output_image"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Task struct {
	ID              string
	OwnerID         string
	Mode            EditMode
	Status          TaskStatus
	Progress        int
	Step            string
	SourceImage     string
	Config          EditConfig
	Result          *TaskResult
	Error           *TaskError
	CreditsConsumed int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// ConfigJSON serializes the tagged config for storage.
func (t *Task) ConfigJSON() ([]byte, error) {
	return json.Marshal(t.Config)
}
