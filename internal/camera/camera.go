// Package camera provides frame sources for scan sessions: Replay streams
// images from disk at a fixed rate and Feed forwards frames pushed by a
// client over HTTP.
package camera

import (
	"errors"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

var (
	// ErrNotBound is returned when frames are pushed with no scan bound.
	ErrNotBound = errors.New("camera not bound")

	// ErrAlreadyBound is returned by Bind while another scan holds the camera.
	ErrAlreadyBound = errors.New("camera already bound")
)

var (
	_ scan.Camera = (*Replay)(nil)
	_ scan.Camera = (*Feed)(nil)
)
