package cmd

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/nativescan/internal/barcode"
	"github.com/MeKo-Tech/nativescan/internal/camera"
	"github.com/MeKo-Tech/nativescan/internal/config"
	"github.com/MeKo-Tech/nativescan/internal/face"
	"github.com/MeKo-Tech/nativescan/internal/host"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// app bundles a session with the collaborators it was built from.
type app struct {
	session *scan.Session
	feed    *camera.Feed // nil for the replay source
	surface *host.Surface
	perms   *host.Permissions
}

// newDetectorFactory creates a barcode detector for QR scans and a face
// detector for face scans, one per bind.
func newDetectorFactory(cfg *config.Config) (scan.DetectorFactory, error) {
	bc, err := cfg.ToBarcodeConfig()
	if err != nil {
		return nil, err
	}
	fc := cfg.ToFaceConfig()

	return scan.DetectorFactoryFunc(func(mode scan.Mode) (scan.Detector, error) {
		switch mode {
		case scan.ModeQR:
			return barcode.NewDetector(nil, bc), nil
		case scan.ModeFace:
			d, err := face.NewDetector(fc)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("no detector for mode %s", mode)
		}
	}), nil
}

// newCamera builds the configured frame source.
func newCamera(cfg *config.Config) (scan.Camera, *camera.Feed, error) {
	switch cfg.Camera.Source {
	case config.SourceFeed:
		feed := camera.NewFeed()
		return feed, feed, nil
	case config.SourceReplay:
		replay, err := camera.NewReplay(cfg.ToReplayConfig())
		if err != nil {
			return nil, nil, err
		}
		return replay, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown camera source %q", cfg.Camera.Source)
	}
}

// newApp wires a session for cfg that reports to sink.
func newApp(cfg *config.Config, sink scan.EventSink, logger *slog.Logger) (*app, error) {
	cam, feed, err := newCamera(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}
	detectors, err := newDetectorFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create detectors: %w", err)
	}

	a := &app{
		feed:    feed,
		surface: host.NewSurface(cfg.Host.Active),
		perms:   host.NewPermissions(cfg.Host.CameraGranted),
	}
	policy := cfg.ToPolicy()
	a.session, err = scan.New(scan.Options{
		Camera:      cam,
		Detectors:   detectors,
		Sink:        sink,
		Host:        a.surface,
		Permissions: a.perms,
		Policy:      &policy,
		Streams:     cfg.ToStreams(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
