package model

import (
	"encoding/json"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

const (
	ModeHeadSwap         = "head_swap"
	ModeBackgroundChange = "background_change"
	ModePoseChange       = "pose_change"
)

// Task is the worker's view of a task record: enough to drive a
// pipeline, without the admission-side machinery.
type Task struct {
	ID              string
	OwnerID         string
	Mode            string
	Status          string
	Progress        int
	Step            string
	SourceImage     string
	Config          json.RawMessage
	CreditsConsumed int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Result mirrors what the store persists for a finished task.
type Result struct {
	OutputImage string         `json:"output_image"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
