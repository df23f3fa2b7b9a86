package onnx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// ErrSessionClosed is returned by Run after Close.
var ErrSessionClosed = errors.New("onnx session closed")

// SessionConfig tunes a model session.
type SessionConfig struct {
	NumThreads int
	GPU        GPUConfig
}

// Session runs a single-input model. Run calls are serialized.
type Session struct {
	mu      sync.Mutex
	session *onnxruntime_go.DynamicAdvancedSession
	input   onnxruntime_go.InputOutputInfo
	outputs []onnxruntime_go.InputOutputInfo
}

// NewSession loads modelPath. Setup must have been called.
func NewSession(modelPath string, cfg SessionConfig) (*Session, error) {
	if modelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	outNames := make([]string, len(outputs))
	for i, o := range outputs {
		outNames[i] = o.Name
	}
	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath, []string{inputs[0].Name}, outNames, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &Session{session: session, input: inputs[0], outputs: outputs}, nil
}

// InputShape returns the model's declared input shape. Dynamic axes are -1.
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.input.Dimensions...)
}

// OutputNames returns the output names in model order.
func (s *Session) OutputNames() []string {
	names := make([]string, len(s.outputs))
	for i, o := range s.outputs {
		names[i] = o.Name
	}
	return names
}

// Run feeds input and returns every float32 output in model order.
func (s *Session) Run(input Tensor) ([]Output, error) {
	if err := VerifyImageTensor(input); err != nil {
		return nil, fmt.Errorf("invalid tensor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrSessionClosed
	}

	in, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()

	// Outputs are allocated by the runtime.
	values := make([]onnxruntime_go.Value, len(s.outputs))
	if err := s.session.Run([]onnxruntime_go.Value{in}, values); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, v := range values {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	out := make([]Output, len(values))
	for i, v := range values {
		t, ok := v.(*onnxruntime_go.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s: expected float32 tensor, got %T", s.outputs[i].Name, v)
		}
		out[i] = Output{
			Name:  s.outputs[i].Name,
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), t.GetData()...),
		}
	}
	return out, nil
}

// Close destroys the runtime session. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
