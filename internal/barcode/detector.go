package barcode

import (
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("barcode detector closed")

// Config configures a Detector.
type Config struct {
	Formats   []Format
	TryHarder bool
	// MaxDimension downscales larger frames before decoding. Zero disables it.
	MaxDimension int
}

// Detector decodes barcodes from scan frames.
type Detector struct {
	backend Backend
	opts    Options
	maxDim  int
	closed  atomic.Bool
}

// NewDetector wraps backend; a nil backend selects the default one.
func NewDetector(backend Backend, cfg Config) *Detector {
	if backend == nil {
		backend = NewBackend()
	}
	return &Detector{
		backend: backend,
		opts:    Options{Formats: cfg.Formats, TryHarder: cfg.TryHarder},
		maxDim:  cfg.MaxDimension,
	}
}

// Process decodes frame and reports one match per symbol found. Decoded
// text is NFC-normalized.
func (d *Detector) Process(ctx context.Context, frame scan.Frame) (scan.Result, error) {
	if d.closed.Load() {
		return scan.Result{}, ErrClosed
	}
	if frame.Image == nil {
		return scan.Result{}, nil
	}

	img, scale := d.prepare(frame.Image)
	results, err := d.backend.Decode(ctx, img, d.opts)
	if err != nil {
		return scan.Result{}, err
	}

	origin := frame.Image.Bounds().Min
	var out scan.Result
	for _, r := range results {
		if r.Value == "" {
			continue
		}
		out.Matches = append(out.Matches, scan.Match{
			Value:  norm.NFC.String(r.Value),
			Bounds: scaleRect(r.BBox, scale, origin),
			Score:  1,
		})
	}
	return out, nil
}

// Close marks the detector unusable.
func (d *Detector) Close() error {
	d.closed.Store(true)
	return nil
}

// prepare downscales img when it exceeds the configured size and returns
// the factor that maps result coordinates back to the frame.
func (d *Detector) prepare(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	if d.maxDim <= 0 || (b.Dx() <= d.maxDim && b.Dy() <= d.maxDim) {
		return img, 1
	}
	small := imaging.Fit(img, d.maxDim, d.maxDim, imaging.Linear)
	return small, float64(b.Dx()) / float64(small.Bounds().Dx())
}

func scaleRect(r image.Rectangle, scale float64, origin image.Point) image.Rectangle {
	if r.Empty() || scale == 1 {
		return r
	}
	return image.Rect(
		origin.X+int(float64(r.Min.X)*scale),
		origin.Y+int(float64(r.Min.Y)*scale),
		origin.X+int(float64(r.Max.X)*scale),
		origin.Y+int(float64(r.Max.Y)*scale),
	)
}
