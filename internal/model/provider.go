package model

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/xray-check/internal/config"
	"github.com/example/xray-check/internal/logging"
)

// OpenFunc turns a model file on disk into a predictor.
type OpenFunc func(path string) (Predictor, error)

// Provider resolves the configured model source to a local file and opens it.
type Provider struct {
	cfg    config.ModelConfig
	client *resty.Client
	open   OpenFunc
	logger *zap.Logger
}

// NewProvider builds a provider that opens models with onnxruntime.
func NewProvider(cfg config.ModelConfig, logger *zap.Logger) *Provider {
	opts := ONNXOptions{
		SharedLibraryPath: cfg.SharedLibraryPath,
		InputName:         cfg.InputName,
		OutputName:        cfg.OutputName,
	}
	return NewProviderWithOpener(cfg, logger, func(path string) (Predictor, error) {
		return NewONNXPredictor(path, opts)
	})
}

// NewProviderWithOpener is NewProvider with a custom opener.
func NewProviderWithOpener(cfg config.ModelConfig, logger *zap.Logger, open OpenFunc) *Provider {
	client := resty.New().
		SetTimeout(cfg.Hub.Timeout).
		SetHeader("User-Agent", "xray-check/1.0")
	if cfg.Hub.Token != "" {
		client.SetAuthToken(cfg.Hub.Token)
	}
	return &Provider{
		cfg:    cfg,
		client: client,
		open:   open,
		logger: logger.Named("model_provider"),
	}
}

// Load resolves and opens the model. Every failure matches ErrModelLoad.
func (p *Provider) Load(ctx context.Context) (Predictor, error) {
	path, err := p.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	p.logger.Info("opening model", zap.String("path", path))
	predictor, err := p.open(path)
	if err != nil {
		return nil, logging.NewKindError("model.open", "", ErrModelLoad, err)
	}
	return predictor, nil
}

// Resolve returns a local path for the configured source, downloading from the
// hub on first use.
func (p *Provider) Resolve(ctx context.Context) (string, error) {
	switch p.cfg.Source {
	case config.SourceLocal:
		if _, err := os.Stat(p.cfg.Path); err != nil {
			return "", logging.NewKindError("model.resolve_local", "", ErrModelLoad, err)
		}
		return p.cfg.Path, nil
	case config.SourceHub:
		return p.fetchFromHub(ctx)
	default:
		return "", logging.NewKindError("model.resolve", "", ErrModelLoad, fmt.Errorf("unknown source %q", p.cfg.Source))
	}
}

// CachePath is where a hub artifact is stored locally.
func (p *Provider) CachePath() string {
	hub := p.cfg.Hub
	return filepath.Join(hub.CacheDir, filepath.FromSlash(hub.RepoID), hub.Revision, filepath.FromSlash(hub.Filename))
}

func (p *Provider) hubURL() string {
	hub := p.cfg.Hub
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		strings.TrimRight(hub.Endpoint, "/"), hub.RepoID, url.PathEscape(hub.Revision), hub.Filename)
}

func (p *Provider) fetchFromHub(ctx context.Context) (string, error) {
	const op = "model.fetch_hub"
	target := p.CachePath()
	opLogger := logging.WithOperation(p.logger, op, "").With(
		zap.String("repo_id", p.cfg.Hub.RepoID),
		zap.String("filename", p.cfg.Hub.Filename),
	)

	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		opLogger.Info("using cached model", zap.String("path", target))
		return target, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", logging.NewKindError(op, "", ErrModelLoad, err)
	}

	partial := target + ".part"
	defer os.Remove(partial) //nolint:errcheck

	source := p.hubURL()
	opLogger.Info("downloading model", zap.String("url", source))
	resp, err := p.client.R().
		SetContext(ctx).
		SetOutput(partial).
		Get(source)
	if err != nil {
		return "", logging.NewKindError(op, "", ErrModelLoad, err)
	}
	if resp.IsError() {
		return "", logging.NewKindError(op, "", ErrModelLoad, fmt.Errorf("hub responded %s", resp.Status()))
	}

	info, err := os.Stat(partial)
	if err != nil {
		return "", logging.NewKindError(op, "", ErrModelLoad, err)
	}
	if info.Size() == 0 {
		return "", logging.NewKindError(op, "", ErrModelLoad, errors.New("downloaded model is empty"))
	}
	if err := os.Rename(partial, target); err != nil {
		return "", logging.NewKindError(op, "", ErrModelLoad, err)
	}

	opLogger.Info("model cached", zap.String("path", target), zap.Int64("bytes", info.Size()))
	return target, nil
}
