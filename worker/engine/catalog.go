package engine

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type catalogEngine struct {
	Kind         string            `yaml:"kind"`
	URL          string            `yaml:"url"`
	APIKey       string            `yaml:"api_key"`
	AuthScheme   string            `yaml:"auth_scheme"`
	AuthHeader   string            `yaml:"auth_header"`
	Timeout      int               `yaml:"timeout"`
	PollInterval int               `yaml:"poll_interval"`
	WorkflowPath string            `yaml:"workflow_path"`
	NodeMappings map[string]string `yaml:"node_mappings"`
}

type catalog struct {
	Engines map[string]catalogEngine     `yaml:"engines"`
	Routing map[string]map[string]string `yaml:"routing"`
}

// LoadCatalog reads a YAML engine catalog and returns a registry with
// every engine registered and every routing entry bound.
//
// Example:
//
//	engines:
//	  faceswap-api:
//	    kind: external_api
//	    url: https://api.example.com/v1/swap
//	    api_key: secret
//	  comfy-local:
//	    kind: local_workflow
//	    url: http://127.0.0.1:8188
//	    workflow_path: ./workflows/pose.json
//	    node_mappings:
//	      source_image: "12.image"
//	routing:
//	  head_swap:
//	    swap_faces: faceswap-api
func LoadCatalog(path string, logger *zap.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine catalog: %w", err)
	}

	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse engine catalog: %w", err)
	}

	registry := NewRegistry(logger)

	for name, entry := range cat.Engines {
		settings := Settings{
			URL:          entry.URL,
			APIKey:       entry.APIKey,
			AuthScheme:   entry.AuthScheme,
			AuthHeader:   entry.AuthHeader,
			Timeout:      time.Duration(entry.Timeout) * time.Second,
			PollInterval: time.Duration(entry.PollInterval) * time.Second,
			WorkflowPath: entry.WorkflowPath,
			NodeMappings: entry.NodeMappings,
		}
		if err := registry.Register(name, Kind(entry.Kind), settings); err != nil {
			return nil, fmt.Errorf("register engine %q: %w", name, err)
		}
		logger.Info("Registered engine from catalog",
			zap.String("engine", name), zap.String("kind", entry.Kind))
	}

	for pipeline, stages := range cat.Routing {
		for stage, engineName := range stages {
			if err := registry.Bind(pipeline, stage, engineName); err != nil {
				return nil, fmt.Errorf("bind %s/%s: %w", pipeline, stage, err)
			}
		}
	}

	return registry, nil
}
