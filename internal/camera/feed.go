package camera

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/MeKo-Tech/nativescan/internal/scan"
	"github.com/MeKo-Tech/nativescan/internal/utils"
)

// Feed is a camera whose frames are pushed by a client, for example over
// HTTP uploads. It only delivers while a scan is bound.
type Feed struct {
	mu      sync.Mutex
	deliver func(scan.Frame)
	cfg     scan.StreamConfig
	seq     uint64
}

// NewFeed returns an unbound feed.
func NewFeed() *Feed { return &Feed{} }

func (f *Feed) Bind(_ context.Context, cfg scan.StreamConfig, deliver func(scan.Frame)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliver != nil {
		return ErrAlreadyBound
	}
	f.deliver = deliver
	f.cfg = cfg
	return nil
}

func (f *Feed) Unbind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliver = nil
	return nil
}

// Bound reports the active stream config, if a scan is bound.
func (f *Feed) Bound() (scan.StreamConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.deliver != nil
}

// Push hands img to the bound scan. rotation is the clockwise rotation in
// degrees that makes the image upright.
func (f *Feed) Push(img image.Image, rotation int) (uint64, error) {
	f.mu.Lock()
	deliver, cfg := f.deliver, f.cfg
	if deliver == nil {
		f.mu.Unlock()
		return 0, ErrNotBound
	}
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	img, err := utils.FitWithin(img, cfg.Width, cfg.Height)
	if err != nil {
		return 0, err
	}
	frame := scan.NewFrame(img, seq, time.Now(), nil)
	frame.Rotation = rotation
	deliver(frame)
	return seq, nil
}
