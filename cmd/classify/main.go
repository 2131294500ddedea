// Command classify runs the pneumonia classifier on local chest X-ray files.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/example/xray-check/internal/config"
	"github.com/example/xray-check/internal/decision"
	"github.com/example/xray-check/internal/imageprocessor"
	"github.com/example/xray-check/internal/logging"
	"github.com/example/xray-check/internal/model"
)

var (
	normalColor    = color.New(color.FgGreen, color.Bold).SprintFunc()
	pneumoniaColor = color.New(color.FgRed, color.Bold).SprintFunc()
	errorColor     = color.New(color.FgYellow).SprintFunc()
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the service configuration file")
	modelPath := flag.String("model", "", "Path to a local ONNX model (overrides config)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: classify [-config file] [-model file.onnx] image.jpg [image.png ...]")
		os.Exit(2)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.Model.Source = config.SourceLocal
		cfg.Model.Path = *modelPath
	}

	logger, err := logging.NewLogger("warn", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	predictor, err := model.NewProvider(cfg.Model, logger).Load(context.Background())
	if err != nil {
		logger.Fatal("model load failed", zap.Error(err))
	}
	if closer, ok := predictor.(interface{ Close() }); ok {
		defer closer.Close()
	}

	failures := run(context.Background(), os.Stdout, model.NewEngine(predictor), flag.Args())
	if failures > 0 {
		os.Exit(1)
	}
}

// run classifies every path and prints one line per file. It returns the
// number of files that could not be classified.
func run(ctx context.Context, w io.Writer, engine *model.Engine, paths []string) int {
	failures := 0
	for _, path := range paths {
		d, err := classifyFile(ctx, engine, path)
		if err != nil {
			failures++
			fmt.Fprintf(w, "%s %s: %v\n", errorColor("[-]"), path, err)
			continue
		}
		fmt.Fprintln(w, formatResult(path, d))
	}
	return failures
}

func classifyFile(ctx context.Context, engine *model.Engine, path string) (decision.Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return decision.Decision{}, err
	}
	if _, err := imageprocessor.ValidateUpload(filepath.Base(path), data); err != nil {
		return decision.Decision{}, err
	}
	tensor, err := imageprocessor.Preprocess(data)
	if err != nil {
		return decision.Decision{}, err
	}
	p, err := engine.Infer(ctx, tensor)
	if err != nil {
		return decision.Decision{}, err
	}
	return decision.Decide(p), nil
}

func formatResult(path string, d decision.Decision) string {
	label := normalColor(string(d.Label))
	if d.Label == decision.LabelPneumonia {
		label = pneumoniaColor(string(d.Label))
	}
	return fmt.Sprintf("%s: Prediction: %s (confidence %s)", path, label, d.ConfidenceString())
}
