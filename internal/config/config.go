package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Model sources.
const (
	SourceLocal = "local"
	SourceHub   = "hub"
)

// Config is the root service configuration.
type Config struct {
	Server struct {
		HTTPAddr        string        `yaml:"http_addr"`
		GRPCAddr        string        `yaml:"grpc_addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"log"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Audience  string        `yaml:"audience"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		SessionTTL time.Duration `yaml:"session_ttl"`
	} `yaml:"redis"`

	Model ModelConfig `yaml:"model"`
}

// ModelConfig describes where the classifier comes from and how to call it.
type ModelConfig struct {
	Source            string `yaml:"source"`
	Path              string `yaml:"path"`
	SharedLibraryPath string `yaml:"shared_library_path"`
	InputName         string `yaml:"input_name"`
	OutputName        string `yaml:"output_name"`
	Hub               struct {
		Endpoint string        `yaml:"endpoint"`
		RepoID   string        `yaml:"repo_id"`
		Filename string        `yaml:"filename"`
		Revision string        `yaml:"revision"`
		CacheDir string        `yaml:"cache_dir"`
		Token    string        `yaml:"token"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"hub"`
}

// Load reads .config.yaml (or config.yaml) from the working directory, then
// applies .env and environment overrides. A missing config file is not an error.
func Load() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	cfg, err := LoadFile(path)
	return cfg, path, err
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Audience = getEnv("JWT_AUDIENCE", c.Auth.Audience)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Model.Source = getEnv("MODEL_SOURCE", c.Model.Source)
	c.Model.Path = getEnv("MODEL_PATH", c.Model.Path)
	c.Model.SharedLibraryPath = getEnv("ONNXRUNTIME_LIB", c.Model.SharedLibraryPath)
	c.Model.Hub.RepoID = getEnv("MODEL_HUB_REPO", c.Model.Hub.RepoID)
	c.Model.Hub.Filename = getEnv("MODEL_HUB_FILE", c.Model.Hub.Filename)
	c.Model.Hub.Token = getEnv("MODEL_HUB_TOKEN", c.Model.Hub.Token)
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":9090"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "dev-secret"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Database.URL == "" {
		c.Database.URL = "sqlite://xray-check.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.SessionTTL <= 0 {
		c.Redis.SessionTTL = 24 * time.Hour
	}
	c.Model.Source = strings.ToLower(strings.TrimSpace(c.Model.Source))
	if c.Model.Source == "" {
		c.Model.Source = SourceLocal
	}
	if c.Model.Path == "" && c.Model.Source == SourceLocal {
		c.Model.Path = "models/my_model.onnx"
	}
	if c.Model.InputName == "" {
		c.Model.InputName = "input"
	}
	if c.Model.OutputName == "" {
		c.Model.OutputName = "output"
	}
	if c.Model.Hub.Endpoint == "" {
		c.Model.Hub.Endpoint = "https://huggingface.co"
	}
	if c.Model.Hub.Revision == "" {
		c.Model.Hub.Revision = "main"
	}
	if c.Model.Hub.CacheDir == "" {
		c.Model.Hub.CacheDir = ".cache/models"
	}
	if c.Model.Hub.Timeout <= 0 {
		c.Model.Hub.Timeout = 5 * time.Minute
	}
}

// Validate checks the model source options.
func (c *Config) Validate() error {
	switch c.Model.Source {
	case SourceLocal:
		if c.Model.Path == "" {
			return errors.New("model.path is required for local source")
		}
	case SourceHub:
		if c.Model.Hub.RepoID == "" || c.Model.Hub.Filename == "" {
			return errors.New("model.hub.repo_id and model.hub.filename are required for hub source")
		}
	default:
		return fmt.Errorf("unknown model source %q", c.Model.Source)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
