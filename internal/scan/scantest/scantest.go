// Package scantest provides fakes for driving a scan.Session in tests.
package scantest

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// Clock is a manual clock that also schedules callbacks. Callbacks run on
// the goroutine calling Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

type timer struct {
	clock   *Clock
	at      time.Time
	fn      func()
	stopped bool
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, fn func()) scan.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*timer
	keep := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of timers not yet fired or stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Camera is a fake frame source. Frames are pushed by the test.
type Camera struct {
	BindErr error

	mu       sync.Mutex
	deliver  func(scan.Frame)
	configs  []scan.StreamConfig
	binds    int
	unbinds  int
	seq      uint64
	released atomic.Int64
	pushed   atomic.Int64
}

// ErrNotBound is returned by Push when no scan is bound.
var ErrNotBound = errors.New("camera not bound")

func (c *Camera) Bind(_ context.Context, cfg scan.StreamConfig, deliver func(scan.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binds++
	c.configs = append(c.configs, cfg)
	if c.BindErr != nil {
		return c.BindErr
	}
	c.deliver = deliver
	return nil
}

func (c *Camera) Unbind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbinds++
	c.deliver = nil
	return nil
}

// Push delivers a frame carrying img.
func (c *Camera) Push(img image.Image) error {
	c.mu.Lock()
	deliver := c.deliver
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	if deliver == nil {
		return ErrNotBound
	}
	c.pushed.Add(1)
	deliver(scan.NewFrame(img, seq, time.Time{}, func() { c.released.Add(1) }))
	return nil
}

// Bound reports whether a deliver callback is installed.
func (c *Camera) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliver != nil
}

func (c *Camera) Binds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binds
}

func (c *Camera) Unbinds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unbinds
}

// Configs returns the stream configs of every Bind call.
func (c *Camera) Configs() []scan.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scan.StreamConfig(nil), c.configs...)
}

// Released returns how many pushed frames have been released.
func (c *Camera) Released() int64 { return c.released.Load() }

// Pushed returns how many frames were delivered.
func (c *Camera) Pushed() int64 { return c.pushed.Load() }

// Detector is a scripted detector. Each Process call pops the next step;
// once the script is exhausted Default is returned.
type Detector struct {
	Default scan.Result
	// Gate, if set, is received from before each Process returns.
	Gate chan struct{}

	mu      sync.Mutex
	script  []Step
	calls   int
	closes  int
	entered atomic.Int64
}

// Step is one scripted Process outcome.
type Step struct {
	Result scan.Result
	Err    error
}

// Script appends steps.
func (d *Detector) Script(steps ...Step) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, steps...)
}

func (d *Detector) Process(ctx context.Context, _ scan.Frame) (scan.Result, error) {
	d.entered.Add(1)
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return scan.Result{}, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.script) == 0 {
		return d.Default, nil
	}
	step := d.script[0]
	d.script = d.script[1:]
	return step.Result, step.Err
}

// SetDefault replaces the result returned once the script is exhausted.
func (d *Detector) SetDefault(res scan.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Default = res
}

// Entered returns how many Process calls have started.
func (d *Detector) Entered() int64 { return d.entered.Load() }

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Detector) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Factory hands out one fresh Detector per NewDetector call and remembers
// them per mode.
type Factory struct {
	Err error
	// Setup, if set, configures each new detector before it is returned.
	Setup func(mode scan.Mode, d *Detector)

	mu   sync.Mutex
	made map[scan.Mode][]*Detector
}

func (f *Factory) NewDetector(mode scan.Mode) (scan.Detector, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	d := &Detector{}
	if f.Setup != nil {
		f.Setup(mode, d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = make(map[scan.Mode][]*Detector)
	}
	f.made[mode] = append(f.made[mode], d)
	return d, nil
}

// Made returns the detectors created for mode, oldest first.
func (f *Factory) Made(mode scan.Mode) []*Detector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Detector(nil), f.made[mode]...)
}

// Last returns the most recent detector for mode, or nil.
func (f *Factory) Last(mode scan.Mode) *Detector {
	made := f.Made(mode)
	if len(made) == 0 {
		return nil
	}
	return made[len(made)-1]
}

// Recorder is an EventSink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []scan.Event
}

func (r *Recorder) Emit(ev scan.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []scan.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scan.Event(nil), r.events...)
}

// Statuses returns the status payloads recorded under name.
func (r *Recorder) Statuses(name string) []scan.StatusEvent {
	var out []scan.StatusEvent
	for _, ev := range r.Events() {
		if ev.Name != name {
			continue
		}
		if st, ok := ev.Payload.(scan.StatusEvent); ok {
			out = append(out, st)
		}
	}
	return out
}

// Named returns the events recorded under name.
func (r *Recorder) Named(name string) []scan.Event {
	var out []scan.Event
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (scan.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return scan.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Switch is a settable Host and Permissions implementation.
type Switch struct {
	v atomic.Bool
}

// NewSwitch returns a switch in state on.
func NewSwitch(on bool) *Switch {
	s := &Switch{}
	s.v.Store(on)
	return s
}

func (s *Switch) Set(on bool) { s.v.Store(on) }
func (s *Switch) Active() bool { return s.v.Load() }
func (s *Switch) CameraGranted() bool { return s.v.Load() }

// Image returns a small opaque image for frames whose content the scripted
// detector ignores.
func Image() image.Image {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

// QR returns a result carrying one decoded value.
func QR(text string) scan.Result {
	return scan.Result{Matches: []scan.Match{{Value: text, Score: 1}}}
}

// Face returns a result carrying one face box.
func Face() scan.Result {
	return scan.Result{Matches: []scan.Match{{Bounds: image.Rect(10, 10, 50, 50), Score: 0.9}}}
}
