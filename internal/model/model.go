// Package model loads the pre-trained pneumonia classifier and runs inference.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/xray-check/internal/imageprocessor"
)

var (
	// ErrModelLoad means the classifier could not be obtained. Fatal at startup.
	ErrModelLoad = errors.New("model load failed")
	// ErrModelInvocation means a loaded predictor failed to produce a usable output.
	ErrModelInvocation = errors.New("model invocation failed")
)

// Predictor is an opaque pre-trained classifier.
type Predictor interface {
	Predict(ctx context.Context, input imageprocessor.Tensor) ([]float32, error)
}

// Engine runs one inference per call. Results are never cached or retried.
type Engine struct {
	predictor Predictor
}

// NewEngine wraps a loaded predictor.
func NewEngine(predictor Predictor) *Engine {
	return &Engine{predictor: predictor}
}

// Infer returns the pneumonia probability, taken from output index 0.
func (e *Engine) Infer(ctx context.Context, input imageprocessor.Tensor) (float64, error) {
	if e == nil || e.predictor == nil {
		return 0, fmt.Errorf("%w: predictor unavailable", ErrModelInvocation)
	}
	if !input.Valid() {
		return 0, fmt.Errorf("%w: unexpected input shape %v", ErrModelInvocation, input.Shape())
	}

	out, err := e.predictor.Predict(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrModelInvocation, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty prediction", ErrModelInvocation)
	}

	p := float64(out[0])
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: probability %v outside [0,1]", ErrModelInvocation, p)
	}
	return p, nil
}
