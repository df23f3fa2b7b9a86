package camera

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

func writeFrames(t *testing.T, dir string, n, w, h int) {
	t.Helper()
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, w, h))
		img.SetGray(0, 0, color.Gray{Y: uint8(i)})
		f, err := os.Create(filepath.Join(dir, "frame"+string(rune('a'+i))+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

type collector struct {
	mu     sync.Mutex
	frames []scan.Frame
}

func (c *collector) deliver(f scan.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *collector) get(i int) scan.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func TestReplay_StreamsFramesInOrder(t *testing.T) {
	back := t.TempDir()
	writeFrames(t, back, 3, 64, 48)

	cam, err := NewReplay(ReplayConfig{BackDir: back, FPS: 200})
	require.NoError(t, err)

	var c collector
	require.NoError(t, cam.Bind(context.Background(), scan.StreamConfig{Lens: scan.LensBack, Width: 32, Height: 32}, c.deliver))
	require.Eventually(t, func() bool { return c.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, cam.Unbind())

	for i := 0; i < 3; i++ {
		f := c.get(i)
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, image.Rect(0, 0, 32, 24), f.Image.Bounds(), "frames are fitted to the stream size")
	}
}

func TestReplay_LoopsUntilUnbind(t *testing.T) {
	front := t.TempDir()
	writeFrames(t, front, 2, 16, 16)

	cam, err := NewReplay(ReplayConfig{FrontDir: front, FPS: 500, Loop: true})
	require.NoError(t, err)

	var c collector
	require.NoError(t, cam.Bind(context.Background(), scan.StreamConfig{Lens: scan.LensFront, Width: 1280, Height: 720}, c.deliver))
	require.Eventually(t, func() bool { return c.count() >= 5 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, cam.Unbind())
	n := c.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, c.count(), "no frames after Unbind returns")
	assert.NoError(t, cam.Unbind())
}

func TestReplay_BindErrors(t *testing.T) {
	_, err := NewReplay(ReplayConfig{})
	assert.Error(t, err)

	back := t.TempDir()
	cam, err := NewReplay(ReplayConfig{BackDir: back})
	require.NoError(t, err)

	noop := func(scan.Frame) {}
	err = cam.Bind(context.Background(), scan.StreamConfig{Lens: scan.LensFront}, noop)
	assert.Error(t, err, "front lens has no directory")

	err = cam.Bind(context.Background(), scan.StreamConfig{Lens: scan.LensBack}, noop)
	assert.Error(t, err, "empty directory")

	writeFrames(t, back, 1, 8, 8)
	require.NoError(t, cam.Bind(context.Background(), scan.StreamConfig{Lens: scan.LensBack}, noop))
	assert.ErrorIs(t, cam.Bind(context.Background(), scan.StreamConfig{Lens: scan.LensBack}, noop), ErrAlreadyBound)
	require.NoError(t, cam.Unbind())
}

func TestFeed(t *testing.T) {
	feed := NewFeed()
	img := image.NewRGBA(image.Rect(0, 0, 2560, 1440))

	_, err := feed.Push(img, 0)
	assert.ErrorIs(t, err, ErrNotBound)

	var c collector
	cfg := scan.StreamConfig{Lens: scan.LensFront, Width: 1280, Height: 720}
	require.NoError(t, feed.Bind(context.Background(), cfg, c.deliver))
	assert.ErrorIs(t, feed.Bind(context.Background(), cfg, c.deliver), ErrAlreadyBound)

	bound, ok := feed.Bound()
	assert.True(t, ok)
	assert.Equal(t, cfg, bound)

	seq, err := feed.Push(img, 90)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	require.Equal(t, 1, c.count())
	assert.Equal(t, 90, c.get(0).Rotation)
	assert.Equal(t, image.Rect(0, 0, 1280, 720), c.get(0).Image.Bounds())

	require.NoError(t, feed.Unbind())
	_, ok = feed.Bound()
	assert.False(t, ok)
	_, err = feed.Push(img, 0)
	assert.ErrorIs(t, err, ErrNotBound)
}
