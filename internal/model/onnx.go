package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/xray-check/internal/imageprocessor"
)

// ONNXOptions configures the onnxruntime session.
type ONNXOptions struct {
	SharedLibraryPath string
	InputName         string
	OutputName        string
}

// ONNXPredictor runs a single-output sigmoid classifier through onnxruntime.
// Input and output tensors are bound to the session once, so Predict
// serializes calls.
type ONNXPredictor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXPredictor initializes the runtime and opens the model at modelPath.
func NewONNXPredictor(modelPath string, opts ONNXOptions) (*ONNXPredictor, error) {
	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputShape := ort.NewShape(1, imageprocessor.TargetSize, imageprocessor.TargetSize, imageprocessor.Channels)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXPredictor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict copies the tensor into the bound input and runs the session.
func (p *ONNXPredictor) Predict(ctx context.Context, input imageprocessor.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.inputTensor.GetData(), input.Data)
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	raw := p.outputTensor.GetData()
	out := make([]float32, len(raw))
	copy(out, raw)
	return out, nil
}

// Close releases the session and tensors. The serving process never calls it;
// short-lived tools do.
func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
	if p.session != nil {
		p.session.Destroy()
	}
	ort.DestroyEnvironment()
}
