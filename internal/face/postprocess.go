package face

import (
	"fmt"
	"image"
	"sort"
)

// Box is a face candidate in normalized [0,1] image coordinates.
type Box struct {
	X1, Y1, X2, Y2 float32
	Score          float32
}

func (b Box) area() float32 {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect maps b onto an image of the given size.
func (b Box) Rect(bounds image.Rectangle) image.Rectangle {
	w, h := float32(bounds.Dx()), float32(bounds.Dy())
	return image.Rect(
		bounds.Min.X+int(b.X1*w),
		bounds.Min.Y+int(b.Y1*h),
		bounds.Min.X+int(b.X2*w),
		bounds.Min.Y+int(b.Y2*h),
	)
}

// DecodeOutputs turns the UltraFace outputs into candidates. scores holds
// [background, face] pairs and boxes holds [x1,y1,x2,y2] per prior.
func DecodeOutputs(scores, boxes []float32, threshold float32) ([]Box, error) {
	if len(scores)%2 != 0 {
		return nil, fmt.Errorf("scores length %d is not a multiple of 2", len(scores))
	}
	n := len(scores) / 2
	if len(boxes) != n*4 {
		return nil, fmt.Errorf("boxes length %d does not match %d priors", len(boxes), n)
	}

	var out []Box
	for i := 0; i < n; i++ {
		s := scores[2*i+1]
		if s <= threshold {
			continue
		}
		b := Box{
			X1:    clamp01(boxes[4*i]),
			Y1:    clamp01(boxes[4*i+1]),
			X2:    clamp01(boxes[4*i+2]),
			Y2:    clamp01(boxes[4*i+3]),
			Score: s,
		}
		if b.area() > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// IoU computes intersection over union of two boxes.
func IoU(a, b Box) float64 {
	x1, y1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	x2, y2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	inter := Box{X1: x1, Y1: y1, X2: x2, Y2: y2}.area()
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter / union)
}

// HardNMS keeps the highest scoring boxes, suppressing any box whose IoU
// with a kept box exceeds threshold. topK <= 0 keeps all survivors.
func HardNMS(boxes []Box, threshold float64, topK int) []Box {
	if len(boxes) <= 1 {
		return boxes
	}
	sorted := append([]Box(nil), boxes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	suppressed := make([]bool, len(sorted))
	kept := make([]Box, 0, len(sorted))
	for a := range sorted {
		if suppressed[a] {
			continue
		}
		kept = append(kept, sorted[a])
		if topK > 0 && len(kept) == topK {
			break
		}
		for b := a + 1; b < len(sorted); b++ {
			if !suppressed[b] && IoU(sorted[a], sorted[b]) > threshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
