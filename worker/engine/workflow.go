package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WorkflowConfig struct {
	URL          string
	WorkflowPath string
	Timeout      time.Duration
	PollInterval time.Duration
	// NodeMappings routes semantic input fields into graph node slots,
	// e.g. "source_image" -> "12.image".
	NodeMappings map[string]string
}

func (c *WorkflowConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: local_workflow requires a url", ErrInvalidEngineConfig)
	}
	if c.WorkflowPath == "" {
		return fmt.Errorf("%w: local_workflow requires a workflow_path", ErrInvalidEngineConfig)
	}
	for field, target := range c.NodeMappings {
		if !strings.Contains(target, ".") {
			return fmt.Errorf("%w: node mapping for %q must be node.field, got %q",
				ErrInvalidEngineConfig, field, target)
		}
	}
	return nil
}

// Artifact is one output reference extracted from a finished workflow.
type Artifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type"`
	URL       string `json:"url"`
}

// WorkflowEngine submits a declarative job graph to a separately
// running executor and polls it to completion.
type WorkflowEngine struct {
	name     string
	cfg      WorkflowConfig
	client   *http.Client
	clientID string
	logger   *zap.Logger
}

func NewWorkflowEngine(name string, cfg WorkflowConfig, logger *zap.Logger) (*WorkflowEngine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &WorkflowEngine{
		name:     name,
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		clientID: uuid.New().String(),
		logger:   logger,
	}, nil
}

func (e *WorkflowEngine) Name() string { return e.name }
func (e *WorkflowEngine) Kind() Kind   { return KindLocalWorkflow }

// ValidateInput checks the job graph is loadable before anything is
// submitted.
func (e *WorkflowEngine) ValidateInput(input map[string]any) bool {
	if input == nil {
		return false
	}
	if _, err := os.Stat(e.cfg.WorkflowPath); err != nil {
		e.logger.Error("workflow definition missing",
			zap.String("engine", e.name), zap.String("path", e.cfg.WorkflowPath))
		return false
	}
	return true
}

func (e *WorkflowEngine) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	if !e.ValidateInput(input) {
		return nil, fmt.Errorf("%w: input validation failed for %s", ErrEngineFailure, e.name)
	}

	workflow, err := e.loadWorkflow()
	if err != nil {
		return nil, err
	}

	e.injectInput(workflow, input)

	promptID, err := e.submit(ctx, workflow)
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow submitted",
		zap.String("engine", e.name), zap.String("prompt_id", promptID))

	outputs, err := e.waitForCompletion(ctx, promptID)
	if err != nil {
		return nil, err
	}

	artifacts := e.extractArtifacts(outputs)
	return map[string]any{
		"images":  artifacts,
		"outputs": outputs,
	}, nil
}

func (e *WorkflowEngine) loadWorkflow() (map[string]any, error) {
	data, err := os.ReadFile(e.cfg.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load workflow: %v", ErrEngineFailure, err)
	}

	var workflow map[string]any
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("%w: parse workflow: %v", ErrEngineFailure, err)
	}
	return workflow, nil
}

// injectInput mutates the freshly loaded graph, writing each mapped
// input value into its node's inputs slot. Unmapped fields are ignored.
func (e *WorkflowEngine) injectInput(workflow map[string]any, input map[string]any) {
	for field, value := range input {
		target, ok := e.cfg.NodeMappings[field]
		if !ok {
			continue
		}
		nodeID, slot, _ := strings.Cut(target, ".")

		node, ok := workflow[nodeID].(map[string]any)
		if !ok {
			continue
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			continue
		}
		inputs[slot] = value
	}
}

func (e *WorkflowEngine) submit(ctx context.Context, workflow map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": e.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode prompt: %v", ErrEngineFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrEngineFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit workflow: %v", ErrEngineFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: submit returned status %d", ErrEngineFailure, resp.StatusCode)
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", ErrEngineFailure, err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("%w: no prompt_id in submit response", ErrEngineFailure)
	}
	return result.PromptID, nil
}

func (e *WorkflowEngine) waitForCompletion(ctx context.Context, promptID string) (map[string]any, error) {
	deadline := time.Now().Add(e.cfg.Timeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: workflow did not finish within %s", ErrExecutionTimeout, e.cfg.Timeout)
		}

		outputs, failed, err := e.pollHistory(ctx, promptID)
		if err != nil {
			// Transient poll errors keep the loop alive; the overall
			// deadline bounds them.
			e.logger.Warn("workflow status poll failed",
				zap.String("engine", e.name), zap.String("prompt_id", promptID), zap.Error(err))
		}
		if failed {
			return nil, fmt.Errorf("%w: workflow reported failure", ErrEngineFailure)
		}
		if outputs != nil {
			return outputs, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrEngineFailure, ctx.Err())
		case <-ticker.C:
		}
	}
}

// pollHistory returns non-nil outputs when the workflow finished, or
// failed=true when the executor reported an error status.
func (e *WorkflowEngine) pollHistory(ctx context.Context, promptID string) (map[string]any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL+"/history/"+promptID, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	var history map[string]struct {
		Outputs map[string]any `json:"outputs"`
		Status  struct {
			StatusStr string `json:"status_str"`
		} `json:"status"`
	}
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, err
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, false, nil
	}
	if len(entry.Outputs) > 0 {
		return entry.Outputs, false, nil
	}
	if entry.Status.StatusStr == "error" {
		return nil, true, nil
	}
	return nil, false, nil
}

// extractArtifacts walks every output node and turns each image record
// into a retrievable URL on the executor.
func (e *WorkflowEngine) extractArtifacts(outputs map[string]any) []Artifact {
	var artifacts []Artifact

	for _, nodeOutput := range outputs {
		node, ok := nodeOutput.(map[string]any)
		if !ok {
			continue
		}
		images, ok := node["images"].([]any)
		if !ok {
			continue
		}

		for _, entry := range images {
			info, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			filename, _ := info["filename"].(string)
			if filename == "" {
				continue
			}
			subfolder, _ := info["subfolder"].(string)
			imageType, _ := info["type"].(string)
			if imageType == "" {
				imageType = "output"
			}

			params := url.Values{}
			params.Set("filename", filename)
			params.Set("type", imageType)
			if subfolder != "" {
				params.Set("subfolder", subfolder)
			}

			artifacts = append(artifacts, Artifact{
				Filename:  filename,
				Subfolder: subfolder,
				Type:      imageType,
				URL:       e.cfg.URL + "/view?" + params.Encode(),
			})
		}
	}
	return artifacts
}

func (e *WorkflowEngine) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.cfg.URL+"/system_stats", nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
