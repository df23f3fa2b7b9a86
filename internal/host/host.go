// Package host models the embedding application: whether it currently has
// a foreground surface to scan from and whether the user granted camera
// access.
package host

import (
	"log/slog"
	"sync/atomic"
)

// Surface reports whether a foreground activity is attached.
type Surface struct {
	active atomic.Bool
}

// NewSurface returns a surface in the given state.
func NewSurface(active bool) *Surface {
	s := &Surface{}
	s.active.Store(active)
	return s
}

func (s *Surface) Active() bool { return s.active.Load() }

// Attach marks the surface active.
func (s *Surface) Attach() {
	s.active.Store(true)
	slog.Debug("Host surface attached")
}

// Detach marks the surface inactive. Running scans are not affected.
func (s *Surface) Detach() {
	s.active.Store(false)
	slog.Debug("Host surface detached")
}

// Permissions holds the camera permission state.
type Permissions struct {
	camera atomic.Bool
}

// NewPermissions returns a permission store with the camera grant set.
func NewPermissions(cameraGranted bool) *Permissions {
	p := &Permissions{}
	p.camera.Store(cameraGranted)
	return p
}

func (p *Permissions) CameraGranted() bool { return p.camera.Load() }

// SetCamera grants or revokes camera access. Revocation applies to the next
// start only.
func (p *Permissions) SetCamera(granted bool) {
	if p.camera.Swap(granted) != granted {
		slog.Info("Camera permission changed", "granted", granted)
	}
}
