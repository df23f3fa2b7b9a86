package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/qrcode"
)

type gozxingBackend struct{}

func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	// Points are reported relative to the decoded region.
	offset := img.Bounds().Min
	if !opts.ROI.Empty() {
		if roiImg, ok := subImage(img, opts.ROI); ok {
			offset = opts.ROI.Intersect(img.Bounds()).Min
			img = roiImg
		}
	}

	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize frame: %w", err)
	}

	hints := make(map[gozxing.DecodeHintType]interface{})
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = []Format{FormatQR}
	}

	var out []Result
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reader := newReader(f)
		if reader == nil {
			continue
		}
		r, err := reader.Decode(bitmap, hints)
		if err != nil {
			if isNoMatch(err) {
				continue
			}
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		out = append(out, toResult(r, offset))
	}
	return out, nil
}

func newReader(f Format) gozxing.Reader {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader()
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case FormatAztec:
		return aztec.NewAztecReader()
	default:
		return nil
	}
}

// isNoMatch reports whether err only means no symbol was found or the
// candidate failed checksum or format validation.
func isNoMatch(err error) bool {
	var re gozxing.ReaderException
	return errors.As(err, &re)
}

func toResult(r *gozxing.Result, offset image.Point) Result {
	pts := r.GetResultPoints()
	var points []Point
	if len(pts) > 0 {
		points = make([]Point, 0, len(pts))
		for _, p := range pts {
			points = append(points, Point{X: int(p.GetX()) + offset.X, Y: int(p.GetY()) + offset.Y})
		}
	}
	return Result{
		Type:   mapFormatFromZXing(r.GetBarcodeFormat()),
		Value:  r.GetText(),
		Points: points,
		BBox:   rectFromPoints(points),
	}
}

func mapFormatFromZXing(bf gozxing.BarcodeFormat) Format {
	switch bf {
	case gozxing.BarcodeFormat_QR_CODE:
		return FormatQR
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return FormatDataMatrix
	case gozxing.BarcodeFormat_AZTEC:
		return FormatAztec
	default:
		return FormatUnknown
	}
}

func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// subImage returns the part of img inside r, copying when img has no SubImage.
func subImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	rb := r.Intersect(img.Bounds())
	if rb.Empty() {
		return nil, false
	}
	type subImager interface{ SubImage(r image.Rectangle) image.Image }
	if s, ok := img.(subImager); ok {
		return s.SubImage(rb), true
	}
	dst := image.NewRGBA(image.Rect(0, 0, rb.Dx(), rb.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rb.Min, draw.Src)
	return dst, true
}
