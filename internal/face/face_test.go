package face

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/nativescan/internal/onnx"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

type fakeRunner struct {
	outputs []onnx.Output
	err     error
	inputs  []onnx.Tensor
	closed  int
}

func (f *fakeRunner) Run(input onnx.Tensor) ([]onnx.Output, error) {
	f.inputs = append(f.inputs, input)
	return f.outputs, f.err
}

func (f *fakeRunner) Close() error {
	f.closed++
	return nil
}

// ultraOutputs builds model outputs for the given candidates.
func ultraOutputs(boxes ...Box) []onnx.Output {
	n := len(boxes)
	scores := make([]float32, 0, 2*n)
	coords := make([]float32, 0, 4*n)
	for _, b := range boxes {
		scores = append(scores, 1-b.Score, b.Score)
		coords = append(coords, b.X1, b.Y1, b.X2, b.Y2)
	}
	return []onnx.Output{
		{Name: "scores", Shape: []int64{1, int64(n), 2}, Data: scores},
		{Name: "boxes", Shape: []int64{1, int64(n), 4}, Data: coords},
	}
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocess(t *testing.T) {
	tensor, err := Preprocess(solid(64, 48, color.RGBA{R: 255, G: 127, B: 0, A: 255}), 32, 24)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 24, 32}, tensor.Shape)

	plane := 32 * 24
	assert.InDelta(t, 1.0, tensor.Data[0], 0.01)
	assert.InDelta(t, 0.0, tensor.Data[plane], 0.01)
	assert.InDelta(t, -127.0/128.0, tensor.Data[2*plane], 0.01)
}

func TestOrient(t *testing.T) {
	img := solid(40, 20, color.White)
	assert.Equal(t, image.Rect(0, 0, 20, 40), orient(img, 90).Bounds())
	assert.Equal(t, image.Rect(0, 0, 40, 20), orient(img, 180).Bounds())
	assert.Equal(t, image.Rect(0, 0, 20, 40), orient(img, -90).Bounds())
	assert.Equal(t, img, orient(img, 0))
	assert.Equal(t, img, orient(img, 45))
}

func TestDecodeOutputs(t *testing.T) {
	out := ultraOutputs(
		Box{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.6, Score: 0.95},
		Box{X1: 0.2, Y1: 0.2, X2: 0.3, Y2: 0.3, Score: 0.7},
		Box{X1: -0.1, Y1: 0.5, X2: 1.2, Y2: 0.9, Score: 0.8},
		Box{X1: 0.5, Y1: 0.5, X2: 0.5, Y2: 0.9, Score: 0.99},
	)
	boxes, err := DecodeOutputs(out[0].Data, out[1].Data, 0.7)
	require.NoError(t, err)
	require.Len(t, boxes, 2, "threshold is exclusive and degenerate boxes are dropped")
	assert.InDelta(t, 0.95, boxes[0].Score, 1e-6)
	assert.Equal(t, float32(0), boxes[1].X1)
	assert.Equal(t, float32(1), boxes[1].X2)

	_, err = DecodeOutputs([]float32{0.1}, nil, 0.7)
	assert.Error(t, err)
	_, err = DecodeOutputs([]float32{0.1, 0.9}, []float32{0, 0}, 0.7)
	assert.Error(t, err)
}

func TestIoU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5}
	assert.InDelta(t, 1.0, IoU(a, a), 1e-6)
	assert.InDelta(t, 0.0, IoU(a, Box{X1: 0.6, Y1: 0.6, X2: 0.9, Y2: 0.9}), 1e-6)
	assert.InDelta(t, 1.0/7.0, IoU(a, Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75}), 1e-6)
}

func TestHardNMS(t *testing.T) {
	boxes := []Box{
		{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5, Score: 0.8},
		{X1: 0.11, Y1: 0.11, X2: 0.51, Y2: 0.51, Score: 0.9},
		{X1: 0.6, Y1: 0.6, X2: 0.9, Y2: 0.9, Score: 0.75},
	}
	kept := HardNMS(boxes, 0.3, 0)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-6)
	assert.InDelta(t, 0.75, kept[1].Score, 1e-6)
	assert.InDelta(t, 0.8, boxes[0].Score, 1e-6, "input is not reordered")

	assert.Len(t, HardNMS(boxes, 0.3, 1), 1)
	assert.Empty(t, HardNMS(nil, 0.3, 0))
}

func TestBoxRect(t *testing.T) {
	b := Box{X1: 0.25, Y1: 0.5, X2: 0.75, Y2: 1}
	assert.Equal(t, image.Rect(110, 60, 130, 80), b.Rect(image.Rect(100, 40, 140, 80)))
}

func frame(img image.Image, rotation int) scan.Frame {
	f := scan.NewFrame(img, 1, time.Now(), nil)
	f.Rotation = rotation
	return f
}

func TestDetector_Process(t *testing.T) {
	run := &fakeRunner{outputs: ultraOutputs(
		Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75, Score: 0.92},
		Box{X1: 0.26, Y1: 0.26, X2: 0.76, Y2: 0.76, Score: 0.9},
		Box{X1: 0.0, Y1: 0.0, X2: 0.05, Y2: 0.05, Score: 0.99},
	)}
	d := newDetector(DefaultConfig(), run)

	res, err := d.Process(context.Background(), frame(solid(640, 480, color.Gray{Y: 90}), 0))
	require.NoError(t, err)
	require.Len(t, res.Matches, 1, "overlaps are suppressed and tiny faces skipped")
	assert.Equal(t, image.Rect(160, 120, 480, 360), res.Matches[0].Bounds)
	assert.InDelta(t, 0.92, res.Matches[0].Score, 1e-6)

	require.Len(t, run.inputs, 1)
	assert.Equal(t, []int64{1, 3, 240, 320}, run.inputs[0].Shape)
}

func TestDetector_RotatedFrame(t *testing.T) {
	run := &fakeRunner{outputs: ultraOutputs(Box{X1: 0, Y1: 0, X2: 0.5, Y2: 0.5, Score: 0.9})}
	d := newDetector(DefaultConfig(), run)

	res, err := d.Process(context.Background(), frame(solid(640, 480, color.White), 270))
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, image.Rect(0, 0, 240, 320), res.Matches[0].Bounds)
}

func TestDetector_NoFace(t *testing.T) {
	run := &fakeRunner{outputs: ultraOutputs(Box{X1: 0.2, Y1: 0.2, X2: 0.6, Y2: 0.6, Score: 0.3})}
	res, err := newDetector(DefaultConfig(), run).Process(context.Background(), frame(solid(64, 64, color.Black), 0))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestDetector_Errors(t *testing.T) {
	d := newDetector(DefaultConfig(), &fakeRunner{err: errors.New("inference failed")})
	_, err := d.Process(context.Background(), frame(solid(32, 32, color.White), 0))
	assert.Error(t, err)

	d = newDetector(DefaultConfig(), &fakeRunner{outputs: []onnx.Output{{Name: "x", Shape: []int64{1, 3}}}})
	_, err = d.Process(context.Background(), frame(solid(32, 32, color.White), 0))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Process(ctx, frame(solid(32, 32, color.White), 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetector_NilImageAndClose(t *testing.T) {
	run := &fakeRunner{}
	d := newDetector(DefaultConfig(), run)
	res, err := d.Process(context.Background(), scan.Frame{})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Empty(t, run.inputs)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, run.closed)
}

func TestSplitOutputs_ByShape(t *testing.T) {
	scores, boxes, err := splitOutputs([]onnx.Output{
		{Name: "output0", Shape: []int64{1, 1, 4}, Data: []float32{1, 2, 3, 4}},
		{Name: "output1", Shape: []int64{1, 1, 2}, Data: []float32{0.1, 0.9}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.9}, scores)
	assert.Equal(t, []float32{1, 2, 3, 4}, boxes)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no model", func(c *Config) { c.ModelPath = "" }},
		{"bad size", func(c *Config) { c.InputWidth = 0 }},
		{"bad score", func(c *Config) { c.ScoreThreshold = 1.5 }},
		{"bad iou", func(c *Config) { c.IoUThreshold = 0 }},
		{"bad min face", func(c *Config) { c.MinFaceSize = 1 }},
		{"bad gpu", func(c *Config) { c.GPU.UseGPU = true; c.GPU.DeviceID = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = ""
	_, err := NewDetector(cfg)
	assert.Error(t, err)
}
