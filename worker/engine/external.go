package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	AuthSchemeBearer = "bearer"
	AuthSchemeHeader = "header"
)

type ExternalAPIConfig struct {
	URL        string
	APIKey     string
	AuthScheme string
	AuthHeader string
	Timeout    time.Duration
}

func (c *ExternalAPIConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: external_api requires a url", ErrInvalidEngineConfig)
	}
	switch c.AuthScheme {
	case "", AuthSchemeBearer:
	case AuthSchemeHeader:
		if c.AuthHeader == "" {
			return fmt.Errorf("%w: auth_scheme %q requires auth_header", ErrInvalidEngineConfig, c.AuthScheme)
		}
	default:
		return fmt.Errorf("%w: unknown auth_scheme %q", ErrInvalidEngineConfig, c.AuthScheme)
	}
	return nil
}

// ExternalAPIEngine performs one authenticated request per execution.
// Any non-2xx response or transport error is an engine failure.
type ExternalAPIEngine struct {
	name   string
	cfg    ExternalAPIConfig
	client *http.Client
	logger *zap.Logger
}

func NewExternalAPIEngine(name string, cfg ExternalAPIConfig, logger *zap.Logger) (*ExternalAPIEngine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &ExternalAPIEngine{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (e *ExternalAPIEngine) Name() string { return e.name }
func (e *ExternalAPIEngine) Kind() Kind   { return KindExternalAPI }

func (e *ExternalAPIEngine) ValidateInput(input map[string]any) bool {
	return input != nil
}

func (e *ExternalAPIEngine) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	if !e.ValidateInput(input) {
		return nil, fmt.Errorf("%w: nil input", ErrEngineFailure)
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: encode input: %v", ErrEngineFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEngineFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrEngineFailure, e.name, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEngineFailure, err)
	}

	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEngineFailure, err)
	}

	e.logger.Debug("external api call succeeded", zap.String("engine", e.name))
	return output, nil
}

func (e *ExternalAPIEngine) authorize(req *http.Request) {
	if e.cfg.APIKey == "" {
		return
	}
	switch e.cfg.AuthScheme {
	case AuthSchemeHeader:
		req.Header.Set(e.cfg.AuthHeader, e.cfg.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
}

// HealthCheck probes the endpoint; anything below 500 counts as alive
// since many APIs reject an empty GET but are still serving.
func (e *ExternalAPIEngine) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return false
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
