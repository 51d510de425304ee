package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestExternalAPIEngine_Execute_Success(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var input map[string]any
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("Failed to decode input: %v", err)
		}
		if input["source_image"] != "img_source.png" {
			t.Errorf("Expected source_image in payload, got %v", input)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"output_image": "out.png"})
	}))
	defer server.Close()

	eng, err := NewExternalAPIEngine("faceswap", ExternalAPIConfig{
		URL:    server.URL,
		APIKey: "secret",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	output, err := eng.Execute(context.Background(), map[string]any{"source_image": "img_source.png"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if output["output_image"] != "out.png" {
		t.Errorf("Expected output_image out.png, got %v", output)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
}

func TestExternalAPIEngine_Execute_HeaderAuth(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	eng, err := NewExternalAPIEngine("faceswap", ExternalAPIConfig{
		URL:        server.URL,
		APIKey:     "secret",
		AuthScheme: AuthSchemeHeader,
		AuthHeader: "X-Api-Key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := eng.Execute(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("Expected api key in custom header, got %q", gotKey)
	}
}

func TestExternalAPIEngine_Execute_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	eng, err := NewExternalAPIEngine("faceswap", ExternalAPIConfig{URL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := eng.Execute(context.Background(), map[string]any{}); !errors.Is(err, ErrEngineFailure) {
		t.Errorf("Expected ErrEngineFailure, got %v", err)
	}
}

func TestExternalAPIEngine_Execute_NilInput(t *testing.T) {
	eng, err := NewExternalAPIEngine("faceswap", ExternalAPIConfig{URL: "http://localhost:1"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := eng.Execute(context.Background(), nil); !errors.Is(err, ErrEngineFailure) {
		t.Errorf("Expected ErrEngineFailure, got %v", err)
	}
}

func TestExternalAPIEngine_ConfigValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewExternalAPIEngine("e", ExternalAPIConfig{}, logger); !errors.Is(err, ErrInvalidEngineConfig) {
		t.Errorf("Expected missing url to fail, got %v", err)
	}

	cfg := ExternalAPIConfig{URL: "http://localhost", AuthScheme: AuthSchemeHeader}
	if _, err := NewExternalAPIEngine("e", cfg, logger); !errors.Is(err, ErrInvalidEngineConfig) {
		t.Errorf("Expected header scheme without header name to fail, got %v", err)
	}

	cfg = ExternalAPIConfig{URL: "http://localhost", AuthScheme: "oauth"}
	if _, err := NewExternalAPIEngine("e", cfg, logger); !errors.Is(err, ErrInvalidEngineConfig) {
		t.Errorf("Expected unknown scheme to fail, got %v", err)
	}
}

func TestExternalAPIEngine_HealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 405 on empty GET still means the endpoint is serving.
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer healthy.Close()

	eng, err := NewExternalAPIEngine("e", ExternalAPIConfig{URL: healthy.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !eng.HealthCheck(context.Background()) {
		t.Error("Expected 405 endpoint to count as healthy")
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	eng, err = NewExternalAPIEngine("e", ExternalAPIConfig{URL: broken.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if eng.HealthCheck(context.Background()) {
		t.Error("Expected 502 endpoint to count as unhealthy")
	}
}
