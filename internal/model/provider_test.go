package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/xray-check/internal/config"
	"github.com/example/xray-check/internal/logging"
)

func hubConfig(endpoint, cacheDir string) config.ModelConfig {
	var cfg config.ModelConfig
	cfg.Source = config.SourceHub
	cfg.Hub.Endpoint = endpoint
	cfg.Hub.RepoID = "acme/chest-xray"
	cfg.Hub.Filename = "model.onnx"
	cfg.Hub.Revision = "main"
	cfg.Hub.CacheDir = cacheDir
	cfg.Hub.Token = "hub-token"
	cfg.Hub.Timeout = 5 * time.Second
	return cfg
}

func recordingOpener(opened *string) OpenFunc {
	return func(path string) (Predictor, error) {
		*opened = path
		return &stubPredictor{out: []float32{0.1}}, nil
	}
}

func TestProviderDownloadsAndCachesHubModel(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/acme/chest-xray/resolve/main/model.onnx" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer hub-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("onnx-bytes"))
	}))
	defer server.Close()

	var opened string
	provider := NewProviderWithOpener(hubConfig(server.URL, t.TempDir()), zap.NewNop(), recordingOpener(&opened))

	if _, err := provider.Load(context.Background()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if opened != provider.CachePath() {
		t.Fatalf("expected cached path %s to be opened, got %s", provider.CachePath(), opened)
	}
	data, err := os.ReadFile(opened)
	if err != nil || string(data) != "onnx-bytes" {
		t.Fatalf("unexpected cached content %q, %v", data, err)
	}

	if _, err := provider.Load(context.Background()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if requests != 1 {
		t.Fatalf("expected cached model to be reused, got %d requests", requests)
	}
}

func TestProviderHubErrorIsModelLoadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	var opened string
	provider := NewProviderWithOpener(hubConfig(server.URL, cacheDir), zap.NewNop(), recordingOpener(&opened))

	_, err := provider.Load(context.Background())
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "model.fetch_hub" {
		t.Fatalf("expected model.fetch_hub OperationError, got %v", err)
	}
	if opened != "" {
		t.Fatal("opener should not run after a failed download")
	}
	if _, err := os.Stat(provider.CachePath()); !os.IsNotExist(err) {
		t.Fatalf("expected no cached file after failure, got %v", err)
	}
}

func TestProviderLocalMissingFile(t *testing.T) {
	var cfg config.ModelConfig
	cfg.Source = config.SourceLocal
	cfg.Path = filepath.Join(t.TempDir(), "missing.onnx")

	var opened string
	provider := NewProviderWithOpener(cfg, zap.NewNop(), recordingOpener(&opened))
	if _, err := provider.Load(context.Background()); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestProviderLocalOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}
	var cfg config.ModelConfig
	cfg.Source = config.SourceLocal
	cfg.Path = path

	provider := NewProviderWithOpener(cfg, zap.NewNop(), func(string) (Predictor, error) {
		return nil, errors.New("corrupt graph")
	})
	if _, err := provider.Load(context.Background()); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}
