package model

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestHandleLoadsOnce(t *testing.T) {
	loads := 0
	predictor := &stubPredictor{out: []float32{0.7}}
	h := NewHandle(func(ctx context.Context) (Predictor, error) {
		loads++
		return predictor, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Get(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if loads != 1 {
		t.Fatalf("expected a single load, got %d", loads)
	}
	if !h.Ready() {
		t.Fatal("expected handle to be ready")
	}

	out, err := h.Predict(context.Background(), validTensor())
	if err != nil || len(out) != 1 || out[0] != 0.7 {
		t.Fatalf("unexpected prediction %v, %v", out, err)
	}
}

func TestHandleRemembersFailure(t *testing.T) {
	loads := 0
	h := NewHandle(func(ctx context.Context) (Predictor, error) {
		loads++
		return nil, ErrModelLoad
	})

	for i := 0; i < 3; i++ {
		if _, err := h.Get(context.Background()); !errors.Is(err, ErrModelLoad) {
			t.Fatalf("expected ErrModelLoad, got %v", err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected a single load attempt, got %d", loads)
	}
	if h.Ready() {
		t.Fatal("handle should not be ready after a failed load")
	}
}
