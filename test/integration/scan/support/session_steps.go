package support

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/nativescan/internal/scan"
	"github.com/MeKo-Tech/nativescan/internal/scan/scantest"
)

// parseMode maps the feature wording onto a scan mode.
func parseMode(name string) (scan.Mode, error) {
	switch name {
	case "QR", "qr":
		return scan.ModeQR, nil
	case "face":
		return scan.ModeFace, nil
	default:
		return scan.ModeNone, fmt.Errorf("unknown scan mode %q", name)
	}
}

func (testCtx *TestContext) aScanSession() error {
	return testCtx.setupSession(true, true)
}

func (testCtx *TestContext) theHostHasNoForegroundActivity() error {
	testCtx.Surface.Detach()
	return nil
}

func (testCtx *TestContext) cameraPermissionIsDenied() error {
	testCtx.Perms.SetCamera(false)
	return nil
}

func (testCtx *TestContext) theCameraFailsToStart() error {
	testCtx.Camera.BindErr = errors.New("camera in use")
	return nil
}

func (testCtx *TestContext) iStartAScan(mode string) error {
	m, err := parseMode(mode)
	if err != nil {
		return err
	}
	testCtx.LastError = testCtx.Session.Start(context.Background(), m)
	return nil
}

func (testCtx *TestContext) iStopTheScan(mode string) error {
	m, err := parseMode(mode)
	if err != nil {
		return err
	}
	testCtx.Session.Stop(m)
	return nil
}

func (testCtx *TestContext) millisecondsPass(ms string) error {
	n, err := strconv.Atoi(ms)
	if err != nil {
		return err
	}
	testCtx.Clock.Advance(time.Duration(n) * time.Millisecond)
	return nil
}

// deliver scripts the current detector with res, pushes one frame and
// waits until the analyzer has released it.
func (testCtx *TestContext) deliver(res scan.Result) error {
	m, _ := scan.ParseMode(testCtx.Session.Snapshot().Mode)
	det := testCtx.Detectors.Last(m)
	if det == nil {
		return fmt.Errorf("no detector bound for mode %q", m)
	}
	det.Script(scantest.Step{Result: res})
	if err := testCtx.Camera.Push(scantest.Image()); err != nil {
		return err
	}
	return waitFor("frame release", func() bool {
		return testCtx.Camera.Released() == testCtx.Camera.Pushed()
	})
}

func (testCtx *TestContext) theDetectorSeesNothing() error {
	return testCtx.deliver(scan.Result{})
}

func (testCtx *TestContext) theDetectorSeesTheQRCode(text string) error {
	return testCtx.deliver(scantest.QR(text))
}

func (testCtx *TestContext) theDetectorSeesAFaceTimes(count int) error {
	for i := 0; i < count; i++ {
		if err := testCtx.deliver(scantest.Face()); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) theStartShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("expected start to succeed, got %w", testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theStartShouldFailWith(errorType string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected start to fail with %s", errorType)
	}
	if got := scan.ErrorType(testCtx.LastError); got != errorType {
		return fmt.Errorf("expected error type %s, got %s (%v)", errorType, got, testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theLastStatusShouldBe(event, phase string, progress int) error {
	statuses := testCtx.Recorder.Statuses(event)
	if len(statuses) == 0 {
		return fmt.Errorf("no %s events emitted", event)
	}
	last := statuses[len(statuses)-1]
	if string(last.Phase) != phase || last.Progress != progress {
		return fmt.Errorf("expected last %s to be %s/%d, got %s/%d", event, phase, progress, last.Phase, last.Progress)
	}
	return nil
}

func (testCtx *TestContext) noStatusShouldHaveBeenEmitted(event string) error {
	if n := len(testCtx.Recorder.Statuses(event)); n != 0 {
		return fmt.Errorf("expected no %s events, got %d", event, n)
	}
	return nil
}

func (testCtx *TestContext) noEventsShouldBeEmitted() error {
	if n := len(testCtx.Recorder.Events()); n != 0 {
		return fmt.Errorf("expected no events, got %d", n)
	}
	return nil
}

func (testCtx *TestContext) aQRDetectedEventWithText(text string) error {
	events := testCtx.Recorder.Named(scan.EventQRDetected)
	if len(events) != 1 {
		return fmt.Errorf("expected one qrDetected event, got %d", len(events))
	}
	if got := events[0].Payload.(scan.QRDetected).Text; got != text {
		return fmt.Errorf("expected qrDetected text %q, got %q", text, got)
	}
	return nil
}

func (testCtx *TestContext) noEventNamedShouldBeEmitted(name string) error {
	if n := len(testCtx.Recorder.Named(name)); n != 0 {
		return fmt.Errorf("expected no %s events, got %d", name, n)
	}
	return nil
}

func (testCtx *TestContext) aStableFaceDetectedEvent() error {
	events := testCtx.Recorder.Named(scan.EventFaceDetected)
	if len(events) != 1 {
		return fmt.Errorf("expected one faceDetected event, got %d", len(events))
	}
	if !events[0].Payload.(scan.FaceDetected).Stable {
		return errors.New("expected a stable face")
	}
	return nil
}

func (testCtx *TestContext) theSessionShouldBeIn(mode, phase string) error {
	snap := testCtx.Session.Snapshot()
	if snap.Mode != mode || string(snap.Phase) != phase {
		return fmt.Errorf("expected session %s/%s, got %s/%s", mode, phase, snap.Mode, snap.Phase)
	}
	return nil
}

func (testCtx *TestContext) theCameraShouldBeBoundToTheLens(lens string) error {
	if !testCtx.Camera.Bound() {
		return errors.New("camera is not bound")
	}
	configs := testCtx.Camera.Configs()
	if got := configs[len(configs)-1].Lens.String(); got != lens {
		return fmt.Errorf("expected %s lens, got %s", lens, got)
	}
	return nil
}

func (testCtx *TestContext) theCameraShouldBeReleased() error {
	if testCtx.Camera.Bound() {
		return errors.New("camera is still bound")
	}
	if testCtx.Camera.Binds() != testCtx.Camera.Unbinds() {
		return fmt.Errorf("binds %d, unbinds %d", testCtx.Camera.Binds(), testCtx.Camera.Unbinds())
	}
	return nil
}

func (testCtx *TestContext) everyDetectorShouldBeClosed() error {
	for _, m := range []scan.Mode{scan.ModeQR, scan.ModeFace} {
		for i, d := range testCtx.Detectors.Made(m) {
			if d.Closes() != 1 {
				return fmt.Errorf("%s detector %d closed %d times", m, i, d.Closes())
			}
		}
	}
	return nil
}

func (testCtx *TestContext) eventSequenceNumbersShouldBeContiguous() error {
	events := testCtx.Recorder.Events()
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			return fmt.Errorf("event %d has seq %d after %d", i, events[i].Seq, events[i-1].Seq)
		}
	}
	return nil
}

// RegisterSessionSteps registers the session state machine steps.
func (testCtx *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a scan session with the host in the foreground$`, testCtx.aScanSession)
	sc.Step(`^the host has no foreground activity$`, testCtx.theHostHasNoForegroundActivity)
	sc.Step(`^camera permission is denied$`, testCtx.cameraPermissionIsDenied)
	sc.Step(`^the camera fails to start$`, testCtx.theCameraFailsToStart)

	sc.Step(`^I start a (QR|face) scan$`, testCtx.iStartAScan)
	sc.Step(`^I stop the (QR|face) scan$`, testCtx.iStopTheScan)
	sc.Step(`^(\d+)ms pass$`, testCtx.millisecondsPass)
	sc.Step(`^the detector sees nothing$`, testCtx.theDetectorSeesNothing)
	sc.Step(`^the detector sees the QR code "([^"]*)"$`, testCtx.theDetectorSeesTheQRCode)
	sc.Step(`^the detector sees a face (\d+) times?$`, testCtx.theDetectorSeesAFaceTimes)

	sc.Step(`^the start should succeed$`, testCtx.theStartShouldSucceed)
	sc.Step(`^the start should fail with "([^"]*)"$`, testCtx.theStartShouldFailWith)
	sc.Step(`^the last (qrStatus|faceStatus) should be "([^"]*)" at (\d+)$`, testCtx.theLastStatusShouldBe)
	sc.Step(`^no (qrStatus|faceStatus) should have been emitted$`, testCtx.noStatusShouldHaveBeenEmitted)
	sc.Step(`^no events should be emitted$`, testCtx.noEventsShouldBeEmitted)
	sc.Step(`^a qrDetected event with text "([^"]*)" should be emitted$`, testCtx.aQRDetectedEventWithText)
	sc.Step(`^no (qrDetected|faceDetected) event should be emitted$`, testCtx.noEventNamedShouldBeEmitted)
	sc.Step(`^a stable faceDetected event should be emitted$`, testCtx.aStableFaceDetectedEvent)
	sc.Step(`^the session should be in mode "([^"]*)" and phase "([^"]*)"$`, testCtx.theSessionShouldBeIn)
	sc.Step(`^the camera should be bound to the (back|front) lens$`, testCtx.theCameraShouldBeBoundToTheLens)
	sc.Step(`^the camera should be released$`, testCtx.theCameraShouldBeReleased)
	sc.Step(`^every detector should be closed$`, testCtx.everyDetectorShouldBeClosed)
	sc.Step(`^event sequence numbers should be contiguous$`, testCtx.eventSequenceNumbersShouldBeContiguous)
}
