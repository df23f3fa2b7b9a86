package onnx

import (
	"errors"
	"fmt"
)

// Tensor is a float32 tensor prepared for ONNX input.
// Data layout is row-major, with NCHW for images.
type Tensor struct {
	Data  []float32
	Shape []int64 // e.g., [N, C, H, W]
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
// data must be length C*H*W in NCHW order.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if expected := c * h * w; len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if expected := int(n * c * h * w); len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// Output is one model output copied out of runtime memory.
type Output struct {
	Name  string
	Shape []int64
	Data  []float32
}
