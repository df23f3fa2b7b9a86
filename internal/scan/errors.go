package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActivity is returned when the hosting surface is not ready.
	ErrNoActivity = errors.New("no activity")

	// ErrPermissionDenied is returned when camera permission is not granted.
	ErrPermissionDenied = errors.New("camera permission not granted")
)

// CameraInitError reports a failed camera acquisition or bind. It is not retried.
type CameraInitError struct {
	Detail string
	Err    error
}

func (e *CameraInitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera init error: %s: %v", e.Detail, e.Err)
	}
	return "camera init error: " + e.Detail
}

func (e *CameraInitError) Unwrap() error { return e.Err }

// DetectionError wraps a per-frame detector failure. The session absorbs it.
type DetectionError struct {
	Mode Mode
	Seq  uint64
	Err  error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("%s detection failed on frame %d: %v", e.Mode, e.Seq, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ErrorType maps a start error to the string reported to the host.
func ErrorType(err error) string {
	var camErr *CameraInitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoActivity):
		return "no_activity"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.As(err, &camErr):
		return "camera_init"
	default:
		return "internal"
	}
}
