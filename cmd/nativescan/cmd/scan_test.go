package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/nativescan/internal/config"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

func writeQRFrame(t *testing.T, dir, text string) {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w+40, h+40))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if matrix.Get(x, y) {
				img.SetGray(x+20, y+20, color.Gray{Y: 0})
			}
		}
	}
	writePNG(t, filepath.Join(dir, "frame-001.png"), img)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func fastConfig(backDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Camera.Source = config.SourceReplay
	cfg.Camera.BackDir = backDir
	cfg.Camera.FPS = 30
	cfg.Scan.QRMinElapsed = 100 * time.Millisecond
	cfg.Scan.ConfirmDelay = 50 * time.Millisecond
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(new(bytes.Buffer), nil))
}

type line struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func readLines(t *testing.T, out *bytes.Buffer) []line {
	t.Helper()
	var lines []line
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l), sc.Text())
		lines = append(lines, l)
	}
	return lines
}

func TestRunScan_QRSuccess(t *testing.T) {
	dir := t.TempDir()
	writeQRFrame(t, dir, "https://example.com/ticket/42")

	var out bytes.Buffer
	err := runScan(context.Background(), fastConfig(dir), scan.ModeQR, 10*time.Second, &out, discardLogger())
	require.NoError(t, err)

	lines := readLines(t, &out)
	require.GreaterOrEqual(t, len(lines), 4)

	assert.Equal(t, "qrStatus", lines[0].Type)
	assert.JSONEq(t, `{"phase":"scanning","progress":10}`, string(lines[0].Payload))

	detected := -1
	for i, l := range lines {
		if l.Type == "qrDetected" {
			detected = i
			break
		}
	}
	require.GreaterOrEqual(t, detected, 2, "no qrDetected event")
	assert.JSONEq(t, `{"text":"https://example.com/ticket/42"}`, string(lines[detected].Payload))
	assert.JSONEq(t, `{"phase":"success","progress":100}`, string(lines[detected-1].Payload))
	assert.JSONEq(t, `{"phase":"verifying","progress":85}`, string(lines[detected-2].Payload))

	// closing the session afterwards resets it to idle
	last := lines[len(lines)-1]
	assert.JSONEq(t, `{"phase":"idle","progress":0}`, string(last.Payload))

	for i := 1; i < len(lines); i++ {
		assert.Equal(t, lines[i-1].Seq+1, lines[i].Seq)
	}
}

func TestRunScan_Timeout(t *testing.T) {
	dir := t.TempDir()
	blank := image.NewGray(image.Rect(0, 0, 64, 48))
	writePNG(t, filepath.Join(dir, "blank.png"), blank)

	var out bytes.Buffer
	err := runScan(context.Background(), fastConfig(dir), scan.ModeQR, 300*time.Millisecond, &out, discardLogger())
	require.ErrorIs(t, err, ErrScanTimeout)

	lines := readLines(t, &out)
	require.NotEmpty(t, lines)
	assert.JSONEq(t, `{"phase":"idle","progress":0}`, string(lines[len(lines)-1].Payload))
}

func TestRunScan_CameraInitFailure(t *testing.T) {
	// the back lens has no frames
	cfg := fastConfig(filepath.Join(t.TempDir(), "missing"))
	cfg.Camera.FrontDir = t.TempDir()

	var out bytes.Buffer
	err := runScan(context.Background(), cfg, scan.ModeQR, time.Second, &out, discardLogger())
	require.Error(t, err)
	assert.Equal(t, "camera_init", scan.ErrorType(err))

	lines := readLines(t, &out)
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"phase":"scanning","progress":10}`, string(lines[0].Payload))
	assert.JSONEq(t, `{"phase":"idle","progress":0}`, string(lines[1].Payload))
}

func TestRunScan_PermissionDenied(t *testing.T) {
	dir := t.TempDir()
	writeQRFrame(t, dir, "x")
	cfg := fastConfig(dir)
	cfg.Host.CameraGranted = false

	var out bytes.Buffer
	err := runScan(context.Background(), cfg, scan.ModeQR, time.Second, &out, discardLogger())
	require.ErrorIs(t, err, scan.ErrPermissionDenied)
	assert.Empty(t, out.String())
}

func TestNewCamera(t *testing.T) {
	cfg := config.DefaultConfig()

	cam, feed, err := newCamera(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, cam)
	assert.NotNil(t, feed)

	cfg.Camera.Source = config.SourceReplay
	cfg.Camera.BackDir = t.TempDir()
	cam, feed, err = newCamera(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, cam)
	assert.Nil(t, feed)

	cfg.Camera.Source = "usb"
	_, _, err = newCamera(&cfg)
	assert.Error(t, err)
}

func TestNewDetectorFactory(t *testing.T) {
	cfg := config.DefaultConfig()
	factory, err := newDetectorFactory(&cfg)
	require.NoError(t, err)

	det, err := factory.NewDetector(scan.ModeQR)
	require.NoError(t, err)
	require.NoError(t, det.Close())

	_, err = factory.NewDetector(scan.ModeNone)
	assert.Error(t, err)

	cfg.Barcode.Formats = []string{"pdf417"}
	_, err = newDetectorFactory(&cfg)
	assert.Error(t, err)
}
