package barcode

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// qrImage renders text as a QR code with a white border of pad pixels.
func qrImage(t *testing.T, text string, size, pad int) *image.Gray {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	require.NoError(t, err)

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w+2*pad, h+2*pad))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if matrix.Get(x, y) {
				img.SetGray(x+pad, y+pad, color.Gray{Y: 0})
			}
		}
	}
	return img
}

func blankImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestBackend_DecodesQR(t *testing.T) {
	img := qrImage(t, "https://example.com/checkin?id=42", 240, 20)

	results, err := NewBackend().Decode(context.Background(), img, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, FormatQR, results[0].Type)
	assert.Equal(t, "https://example.com/checkin?id=42", results[0].Value)
	assert.NotEmpty(t, results[0].Points)
	assert.False(t, results[0].BBox.Empty())
	assert.True(t, results[0].BBox.In(img.Bounds()))
}

func TestBackend_NoSymbolIsNotAnError(t *testing.T) {
	results, err := NewBackend().Decode(context.Background(), blankImage(320, 240), Options{TryHarder: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBackend_ROI(t *testing.T) {
	qr := qrImage(t, "roi", 160, 10)
	canvas := blankImage(600, 400)
	offset := image.Pt(300, 150)
	for y := 0; y < qr.Bounds().Dy(); y++ {
		for x := 0; x < qr.Bounds().Dx(); x++ {
			canvas.SetGray(offset.X+x, offset.Y+y, qr.GrayAt(x, y))
		}
	}

	roi := image.Rect(280, 130, 600, 400)
	results, err := NewBackend().Decode(context.Background(), canvas, Options{ROI: roi})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "roi", results[0].Value)
	assert.True(t, results[0].BBox.In(roi), "points are mapped back to frame coordinates")

	// A region without the symbol finds nothing.
	results, err = NewBackend().Decode(context.Background(), canvas, Options{ROI: image.Rect(0, 0, 250, 120)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBackend().Decode(ctx, qrImage(t, "x", 100, 10), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats(nil)
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatQR}, formats)

	formats, err = ParseFormats([]string{"QR", "datamatrix", "aztec"})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatQR, FormatDataMatrix, FormatAztec}, formats)

	_, err = ParseFormats([]string{"ean13"})
	assert.Error(t, err)
}

func TestRectFromPoints(t *testing.T) {
	assert.True(t, rectFromPoints(nil).Empty())
	r := rectFromPoints([]Point{{X: 5, Y: 9}, {X: 1, Y: 3}, {X: 7, Y: 4}})
	assert.Equal(t, image.Rect(1, 3, 8, 10), r)
}

type stubBackend struct {
	results []Result
	err     error
	seen    image.Rectangle
}

func (s *stubBackend) Decode(_ context.Context, img image.Image, _ Options) ([]Result, error) {
	s.seen = img.Bounds()
	return s.results, s.err
}

func frame(img image.Image) scan.Frame {
	return scan.NewFrame(img, 1, time.Now(), nil)
}

func TestDetector_DecodesFrame(t *testing.T) {
	d := NewDetector(nil, Config{})
	res, err := d.Process(context.Background(), frame(qrImage(t, "ticket-7", 200, 16)))
	require.NoError(t, err)
	assert.Equal(t, "ticket-7", res.FirstValue())
	assert.Equal(t, 1.0, res.Matches[0].Score)
}

func TestDetector_NormalizesToNFC(t *testing.T) {
	stub := &stubBackend{results: []Result{{Type: FormatQR, Value: "Cafe\u0301"}}}
	d := NewDetector(stub, Config{})

	res, err := d.Process(context.Background(), frame(blankImage(10, 10)))
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", res.FirstValue())
}

func TestDetector_SkipsEmptyValues(t *testing.T) {
	stub := &stubBackend{results: []Result{{Type: FormatQR, Value: ""}}}
	res, err := NewDetector(stub, Config{}).Process(context.Background(), frame(blankImage(10, 10)))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestDetector_DownscalesLargeFrames(t *testing.T) {
	stub := &stubBackend{results: []Result{{Type: FormatQR, Value: "v", BBox: image.Rect(10, 10, 20, 20)}}}
	d := NewDetector(stub, Config{MaxDimension: 640})

	res, err := d.Process(context.Background(), frame(blankImage(1280, 720)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 360), stub.seen)
	assert.Equal(t, image.Rect(20, 20, 40, 40), res.Matches[0].Bounds)
}

func TestDetector_BackendError(t *testing.T) {
	stub := &stubBackend{err: errors.New("broken")}
	_, err := NewDetector(stub, Config{}).Process(context.Background(), frame(blankImage(10, 10)))
	assert.Error(t, err)
}

func TestDetector_Closed(t *testing.T) {
	d := NewDetector(&stubBackend{}, Config{})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	_, err := d.Process(context.Background(), frame(blankImage(10, 10)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDetector_NilImage(t *testing.T) {
	res, err := NewDetector(&stubBackend{err: errors.New("unused")}, Config{}).Process(context.Background(), scan.Frame{})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}
