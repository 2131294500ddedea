package model

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/example/xray-check/internal/imageprocessor"
)

// LoadFunc produces the process-wide predictor.
type LoadFunc func(ctx context.Context) (Predictor, error)

// Handle is the process-wide predictor: loaded at most once, never replaced or
// torn down. A failed load is remembered and returned to every caller.
type Handle struct {
	once      sync.Once
	load      LoadFunc
	predictor Predictor
	err       error
	ready     atomic.Bool
}

// NewHandle wraps a loader.
func NewHandle(load LoadFunc) *Handle {
	return &Handle{load: load}
}

// Get loads the predictor on first call and returns the same result afterwards.
func (h *Handle) Get(ctx context.Context) (Predictor, error) {
	h.once.Do(func() {
		h.predictor, h.err = h.load(ctx)
		if h.err == nil {
			h.ready.Store(true)
		}
	})
	return h.predictor, h.err
}

// Ready reports whether a predictor has been loaded successfully.
func (h *Handle) Ready() bool {
	return h.ready.Load()
}

// Predict makes a loaded Handle usable wherever a Predictor is expected.
func (h *Handle) Predict(ctx context.Context, input imageprocessor.Tensor) ([]float32, error) {
	predictor, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return predictor.Predict(ctx, input)
}
