package engine

import (
	"context"
	"errors"
)

type Kind string

const (
	KindExternalAPI   Kind = "external_api"
	KindLocalWorkflow Kind = "local_workflow"
)

var (
	ErrInvalidEngineConfig = errors.New("invalid engine config")
	ErrEngineNotFound      = errors.New("engine not found")
	// ErrEngineFailure covers a reported backend failure or a transport
	// error; no retry happens at this layer.
	ErrEngineFailure = errors.New("engine failure")
	// ErrExecutionTimeout is distinct from a backend failure: the
	// backend never reached a terminal state within the deadline.
	ErrExecutionTimeout = errors.New("execution timeout")
)

// Engine is a pluggable execution backend. Implementations must not
// retry on their own; retry policy belongs to the pipeline driving them.
type Engine interface {
	Name() string
	Kind() Kind
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
	ValidateInput(input map[string]any) bool
	HealthCheck(ctx context.Context) bool
}
