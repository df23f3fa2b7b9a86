package scan

import (
	"context"
	"time"
)

// Camera is a frame source with a bind/unbind lifecycle. Bind acquires the
// device for cfg and starts calling deliver from the capture goroutine.
// deliver takes ownership of the frame. Unbind must be idempotent.
type Camera interface {
	Bind(ctx context.Context, cfg StreamConfig, deliver func(Frame)) error
	Unbind() error
}

// Detector turns one frame into zero or more matches.
type Detector interface {
	Process(ctx context.Context, frame Frame) (Result, error)
	Close() error
}

// DetectorFactory creates the detector bound for a mode.
type DetectorFactory interface {
	NewDetector(mode Mode) (Detector, error)
}

// DetectorFactoryFunc adapts a function to DetectorFactory.
type DetectorFactoryFunc func(mode Mode) (Detector, error)

func (f DetectorFactoryFunc) NewDetector(mode Mode) (Detector, error) { return f(mode) }

// Host reports whether the hosting surface is attached.
type Host interface {
	Active() bool
}

// Permissions reports the camera permission state.
type Permissions interface {
	CameraGranted() bool
}

// EventSink receives events in emission order. Emit must not block and must
// not call back into the session.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realScheduler struct{}

// RealScheduler schedules on the runtime timer heap.
func RealScheduler() Scheduler { return realScheduler{} }

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
