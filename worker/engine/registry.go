package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Settings is the kind-agnostic bag of connection parameters a catalog
// entry carries. Each engine kind validates the subset it needs.
type Settings struct {
	URL          string
	APIKey       string
	AuthScheme   string
	AuthHeader   string
	Timeout      time.Duration
	PollInterval time.Duration
	WorkflowPath string
	NodeMappings map[string]string
}

// Registry holds the named engines and the routing table that binds
// pipeline stages to them. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	routing map[string]string
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		engines: make(map[string]Engine),
		routing: make(map[string]string),
		logger:  logger,
	}
}

// Register builds an engine of the given kind from settings and stores
// it under name. Re-registering a name replaces the previous engine;
// routing entries pointing at it pick up the replacement.
func (r *Registry) Register(name string, kind Kind, settings Settings) error {
	if name == "" {
		return fmt.Errorf("%w: engine name must not be empty", ErrInvalidEngineConfig)
	}

	var (
		eng Engine
		err error
	)
	switch kind {
	case KindExternalAPI:
		eng, err = NewExternalAPIEngine(name, ExternalAPIConfig{
			URL:        settings.URL,
			APIKey:     settings.APIKey,
			AuthScheme: settings.AuthScheme,
			AuthHeader: settings.AuthHeader,
			Timeout:    settings.Timeout,
		}, r.logger)
	case KindLocalWorkflow:
		eng, err = NewWorkflowEngine(name, WorkflowConfig{
			URL:          settings.URL,
			WorkflowPath: settings.WorkflowPath,
			Timeout:      settings.Timeout,
			PollInterval: settings.PollInterval,
			NodeMappings: settings.NodeMappings,
		}, r.logger)
	default:
		return fmt.Errorf("%w: unknown engine kind %q", ErrInvalidEngineConfig, kind)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.engines[name]; exists {
		r.logger.Info("Replacing registered engine", zap.String("engine", name))
	}
	r.engines[name] = eng
	return nil
}

// RegisterEngine stores an already constructed engine. Used by tests
// and by callers with engine implementations of their own.
func (r *Registry) RegisterEngine(eng Engine) error {
	if eng == nil || eng.Name() == "" {
		return fmt.Errorf("%w: engine must have a name", ErrInvalidEngineConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[eng.Name()] = eng
	return nil
}

func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eng, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotFound, name)
	}
	return eng, nil
}

// Bind routes a pipeline stage to a named engine. The engine must
// already be registered.
func (r *Registry) Bind(pipeline, stage, engineName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[engineName]; !ok {
		return fmt.Errorf("%w: %s", ErrEngineNotFound, engineName)
	}
	r.routing[routingKey(pipeline, stage)] = engineName
	return nil
}

// Resolve returns the engine bound to a pipeline stage.
func (r *Registry) Resolve(pipeline, stage string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.routing[routingKey(pipeline, stage)]
	if !ok {
		return nil, fmt.Errorf("%w: no engine bound to %s/%s", ErrEngineNotFound, pipeline, stage)
	}
	eng, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEngineNotFound, name)
	}
	return eng, nil
}

// Deregister removes an engine and any routing entries pointing at it.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, name)
	for key, bound := range r.routing {
		if bound == name {
			delete(r.routing, key)
		}
	}
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}

// HealthCheckAll probes every registered engine. A failing probe never
// interrupts the sweep.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	engines := make(map[string]Engine, len(r.engines))
	for name, eng := range r.engines {
		engines[name] = eng
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(engines))
	for name, eng := range engines {
		healthy := eng.HealthCheck(ctx)
		if !healthy {
			r.logger.Warn("Engine health check failed", zap.String("engine", name))
		}
		results[name] = healthy
	}
	return results
}

func routingKey(pipeline, stage string) string {
	return pipeline + "/" + stage
}
