package face

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/nativescan/internal/onnx"
)

// Config holds configuration for the face detector.
type Config struct {
	ModelPath      string         // Path to the UltraFace ONNX model
	LibraryPath    string         // Optional onnxruntime shared library override
	InputWidth     int            // Model input width (default: 320)
	InputHeight    int            // Model input height (default: 240)
	ScoreThreshold float32        // Minimum face probability (default: 0.7)
	IoUThreshold   float64        // IoU threshold for hard NMS (default: 0.3)
	TopK           int            // Maximum faces kept after NMS, 0 for all
	MinFaceSize    float64        // Minimum face width relative to the frame (default: 0.1)
	NumThreads     int            // Number of CPU threads (default: 0 for auto)
	GPU            onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns settings for the RFB-320 UltraFace model.
func DefaultConfig() Config {
	return Config{
		ModelPath:      "models/face/version-RFB-320.onnx",
		InputWidth:     320,
		InputHeight:    240,
		ScoreThreshold: 0.7,
		IoUThreshold:   0.3,
		TopK:           5,
		MinFaceSize:    0.1,
		GPU:            onnx.DefaultGPUConfig(),
	}
}

// Validate checks c for values the detector cannot run with.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %v", c.ScoreThreshold)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in (0,1], got %v", c.IoUThreshold)
	}
	if c.MinFaceSize < 0 || c.MinFaceSize >= 1 {
		return fmt.Errorf("min face size must be in [0,1), got %v", c.MinFaceSize)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}
