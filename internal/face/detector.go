package face

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/nativescan/internal/mempool"
	"github.com/MeKo-Tech/nativescan/internal/onnx"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// runner is the part of an onnx.Session the detector needs.
type runner interface {
	Run(input onnx.Tensor) ([]onnx.Output, error)
	Close() error
}

// Detector finds faces with an UltraFace model.
type Detector struct {
	cfg Config
	run runner
}

// NewDetector loads the model described by cfg.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Initializing face detector",
		"model_path", cfg.ModelPath,
		"gpu_enabled", cfg.GPU.UseGPU,
		"input", fmt.Sprintf("%dx%d", cfg.InputWidth, cfg.InputHeight))

	if err := onnx.Setup(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, err
	}
	session, err := onnx.NewSession(cfg.ModelPath, onnx.SessionConfig{NumThreads: cfg.NumThreads, GPU: cfg.GPU})
	if err != nil {
		return nil, err
	}

	shape := session.InputShape()
	if h, w := shape[2], shape[3]; (h > 0 && int(h) != cfg.InputHeight) || (w > 0 && int(w) != cfg.InputWidth) {
		_ = session.Close()
		return nil, fmt.Errorf("model input %dx%d does not match configured %dx%d", w, h, cfg.InputWidth, cfg.InputHeight)
	}
	return newDetector(cfg, session), nil
}

func newDetector(cfg Config, run runner) *Detector {
	return &Detector{cfg: cfg, run: run}
}

// Process reports one match per detected face, with bounds in upright frame
// coordinates and the face probability as score.
func (d *Detector) Process(ctx context.Context, frame scan.Frame) (scan.Result, error) {
	if err := ctx.Err(); err != nil {
		return scan.Result{}, err
	}
	if frame.Image == nil {
		return scan.Result{}, nil
	}

	img := orient(frame.Image, frame.Rotation)
	tensor, err := Preprocess(img, d.cfg.InputWidth, d.cfg.InputHeight)
	if err != nil {
		return scan.Result{}, fmt.Errorf("preprocessing failed: %w", err)
	}
	outputs, err := d.run.Run(tensor)
	mempool.PutFloat32(tensor.Data)
	if err != nil {
		return scan.Result{}, err
	}
	scores, boxes, err := splitOutputs(outputs)
	if err != nil {
		return scan.Result{}, err
	}
	candidates, err := DecodeOutputs(scores, boxes, d.cfg.ScoreThreshold)
	if err != nil {
		return scan.Result{}, err
	}

	bounds := img.Bounds()
	var res scan.Result
	for _, b := range HardNMS(candidates, d.cfg.IoUThreshold, d.cfg.TopK) {
		if float64(b.X2-b.X1) < d.cfg.MinFaceSize {
			continue
		}
		res.Matches = append(res.Matches, scan.Match{Bounds: b.Rect(bounds), Score: float64(b.Score)})
	}
	return res, nil
}

// Close releases the model session.
func (d *Detector) Close() error {
	return d.run.Close()
}

// splitOutputs picks the scores and boxes outputs, by name when the model
// names them and by trailing dimension otherwise.
func splitOutputs(outputs []onnx.Output) ([]float32, []float32, error) {
	var scores, boxes []float32
	for _, o := range outputs {
		name := strings.ToLower(o.Name)
		switch {
		case strings.Contains(name, "score"):
			scores = o.Data
		case strings.Contains(name, "box"):
			boxes = o.Data
		case len(o.Shape) > 0 && o.Shape[len(o.Shape)-1] == 2:
			scores = o.Data
		case len(o.Shape) > 0 && o.Shape[len(o.Shape)-1] == 4:
			boxes = o.Data
		}
	}
	if scores == nil || boxes == nil {
		return nil, nil, errors.New("model outputs do not contain scores and boxes")
	}
	return scores, boxes, nil
}
