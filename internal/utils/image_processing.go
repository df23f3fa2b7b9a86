package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError wraps a failed image operation.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image %s failed: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// FitWithin scales img down to fit maxWidth x maxHeight, preserving aspect
// ratio. Images that already fit, or a non-positive limit, are returned as is.
func FitWithin(img image.Image, maxWidth, maxHeight int) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if maxWidth <= 0 || maxHeight <= 0 || (b.Dx() <= maxWidth && b.Dy() <= maxHeight) {
		return img, nil
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos), nil
}
