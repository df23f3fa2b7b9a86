package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/nativescan/internal/scan"
	"github.com/MeKo-Tech/nativescan/internal/utils"
)

// ReplayConfig configures a Replay camera.
type ReplayConfig struct {
	BackDir  string  // images served for the back lens
	FrontDir string  // images served for the front lens
	FPS      float64 // delivery rate (default: 15)
	Loop     bool    // restart from the first image when exhausted
}

// DefaultFPS is the replay delivery rate when none is configured.
const DefaultFPS = 15

// Replay is a camera that streams image files from a directory per lens.
type Replay struct {
	cfg ReplayConfig
	now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplay validates cfg and returns an unbound camera.
func NewReplay(cfg ReplayConfig) (*Replay, error) {
	if cfg.BackDir == "" && cfg.FrontDir == "" {
		return nil, fmt.Errorf("replay camera needs at least one frame directory")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &Replay{cfg: cfg, now: time.Now}, nil
}

func (r *Replay) dir(lens scan.Lens) string {
	if lens == scan.LensFront {
		return r.cfg.FrontDir
	}
	return r.cfg.BackDir
}

// Bind loads the frames for the requested lens and starts delivering them.
func (r *Replay) Bind(ctx context.Context, cfg scan.StreamConfig, deliver func(scan.Frame)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyBound
	}

	frames, err := r.load(ctx, cfg)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.stream(streamCtx, frames, deliver, r.done)

	slog.Debug("Replay camera bound", "lens", cfg.Lens.String(), "frames", len(frames), "fps", r.cfg.FPS)
	return nil
}

func (r *Replay) load(ctx context.Context, cfg scan.StreamConfig) ([]image.Image, error) {
	dir := r.dir(cfg.Lens)
	if dir == "" {
		return nil, fmt.Errorf("no %s lens available", cfg.Lens)
	}
	paths, err := utils.ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}

	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := utils.LoadImage(p)
		if err != nil {
			return nil, err
		}
		if img, err = utils.FitWithin(img, cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func (r *Replay) stream(ctx context.Context, frames []image.Image, deliver func(scan.Frame), done chan struct{}) {
	defer close(done)
	limiter := rate.NewLimiter(rate.Limit(r.cfg.FPS), 1)
	var seq uint64
	for i := 0; ; i++ {
		if i == len(frames) {
			if !r.cfg.Loop {
				return
			}
			i = 0
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		seq++
		deliver(scan.NewFrame(frames[i], seq, r.now(), nil))
	}
}

// Unbind stops delivery and waits until no deliver call is in flight.
func (r *Replay) Unbind() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
