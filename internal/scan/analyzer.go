package scan

import (
	"context"
	"sync"
	"sync/atomic"
)

// analyzer runs detection for one bound session on a single goroutine.
// Its one-slot mailbox keeps only the latest frame: a frame that arrives
// while another is still waiting replaces it and the older one is released.
type analyzer struct {
	session  *Session
	gen      uint64
	mode     Mode
	detector Detector

	mu      sync.Mutex
	closed  bool
	pending chan Frame
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newAnalyzer(s *Session, gen uint64, mode Mode, det Detector) *analyzer {
	ctx, cancel := context.WithCancel(context.Background())
	a := &analyzer{
		session:  s,
		gen:      gen,
		mode:     mode,
		detector: det,
		pending:  make(chan Frame, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// offer hands a frame to the worker. It never blocks.
func (a *analyzer) offer(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		f.Release()
		return
	}
	select {
	case old := <-a.pending:
		old.Release()
		a.dropped.Add(1)
		framesDropped.WithLabelValues(a.mode.String()).Inc()
	default:
	}
	// Only offer sends, under mu, and the slot was just emptied.
	a.pending <- f
}

func (a *analyzer) run() {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			return
		case f := <-a.pending:
			a.analyze(f)
		}
	}
}

func (a *analyzer) analyze(f Frame) {
	defer f.Release()

	if f.Image == nil || !a.session.accepting(a.gen) {
		return
	}
	res, err := a.detector.Process(a.ctx, f)
	if err != nil {
		err = &DetectionError{Mode: a.mode, Seq: f.Seq, Err: err}
	}
	a.session.handleResult(a.gen, res, err)
}

// close stops the worker and waits for it. Safe to call more than once.
func (a *analyzer) close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		select {
		case f := <-a.pending:
			f.Release()
		default:
		}
	}
	a.mu.Unlock()

	a.cancel()
	<-a.done
}
