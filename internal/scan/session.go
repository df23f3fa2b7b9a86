package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Session.
type Options struct {
	Camera      Camera
	Detectors   DetectorFactory
	Sink        EventSink
	Host        Host        // nil means always active
	Permissions Permissions // nil means always granted
	Scheduler   Scheduler   // nil means RealScheduler
	Policy      *Policy     // nil means DefaultPolicy
	Streams     map[Mode]StreamConfig
	Now         func() time.Time
	Logger      *slog.Logger
}

// DefaultStreams requests 1280x720 from the back lens for QR and the front
// lens for face scans.
func DefaultStreams() map[Mode]StreamConfig {
	return map[Mode]StreamConfig{
		ModeQR:   {Lens: LensBack, Width: 1280, Height: 720},
		ModeFace: {Lens: LensFront, Width: 1280, Height: 720},
	}
}

// Session owns the single scan that may be active at a time. Start and
// Stop are serialized by ctrl; frame results and timers touch state under
// mu. Lock order is ctrl then mu. Events are emitted while holding mu so
// that sinks observe them in transition order.
type Session struct {
	camera    Camera
	detectors DetectorFactory
	sink      EventSink
	host      Host
	perms     Permissions
	sched     Scheduler
	policy    Policy
	streams   map[Mode]StreamConfig
	now       func() time.Time
	logger    *slog.Logger

	ctrl sync.Mutex

	mu        sync.Mutex
	gen       uint64
	seq       uint64
	mode      Mode
	phase     Phase
	id        string
	startedAt time.Time
	progress  int
	stability int
	analyzed  int
	dropped   int
	pending   string
	bound     bool
	detector  Detector
	worker    *analyzer
	confirm   Timer
}

// New validates opts and returns an idle session.
func New(opts Options) (*Session, error) {
	if opts.Camera == nil {
		return nil, errors.New("camera is required")
	}
	if opts.Detectors == nil {
		return nil, errors.New("detector factory is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("event sink is required")
	}

	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan policy: %w", err)
	}

	s := &Session{
		camera:    opts.Camera,
		detectors: opts.Detectors,
		sink:      opts.Sink,
		host:      opts.Host,
		perms:     opts.Permissions,
		sched:     opts.Scheduler,
		policy:    policy,
		streams:   DefaultStreams(),
		now:       opts.Now,
		logger:    opts.Logger,
		phase:     PhaseIdle,
	}
	for m, cfg := range opts.Streams {
		s.streams[m] = cfg
	}
	if s.sched == nil {
		s.sched = RealScheduler()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// StartQRScan starts a QR scan on the back camera.
func (s *Session) StartQRScan(ctx context.Context) error { return s.Start(ctx, ModeQR) }

// StartFaceScan starts a face scan on the front camera.
func (s *Session) StartFaceScan(ctx context.Context) error { return s.Start(ctx, ModeFace) }

// StopQRScan stops a QR scan. It does nothing in any other mode.
func (s *Session) StopQRScan() { s.Stop(ModeQR) }

// StopFaceScan stops a face scan. It does nothing in any other mode.
func (s *Session) StopFaceScan() { s.Stop(ModeFace) }

// Start begins a scan in mode, silently replacing any scan already running.
// On camera failure the session reports idle and returns a *CameraInitError.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	if mode != ModeQR && mode != ModeFace {
		return fmt.Errorf("unsupported scan mode %q", mode)
	}
	if s.host != nil && !s.host.Active() {
		return ErrNoActivity
	}
	if s.perms != nil && !s.perms.CameraGranted() {
		return ErrPermissionDenied
	}

	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	prevMode, prevPhase := s.mode, s.phase
	prev := s.resetLocked()
	s.mu.Unlock()
	s.release(prev)
	if prevMode != ModeNone && prevPhase != PhaseSuccess {
		sessionsFinished.WithLabelValues(prevMode.String(), "replaced").Inc()
		s.logger.Debug("Replaced running scan", "previous", prevMode.String(), "mode", mode.String())
	}

	s.mu.Lock()
	gen := s.gen
	s.mode = mode
	s.phase = PhaseScanning
	s.id = uuid.NewString()
	s.startedAt = s.now()
	s.progress = s.policy.MinProgress
	s.emitStatusLocked(PhaseScanning, s.policy.MinProgress)
	id := s.id
	s.mu.Unlock()

	det, err := s.detectors.NewDetector(mode)
	if err != nil {
		return s.abortStart(gen, &CameraInitError{Detail: mode.String() + " detector unavailable", Err: err})
	}
	w := newAnalyzer(s, gen, mode, det)

	s.mu.Lock()
	s.detector = det
	s.worker = w
	s.bound = true
	s.mu.Unlock()

	if err := s.camera.Bind(ctx, s.streams[mode], w.offer); err != nil {
		return s.abortStart(gen, &CameraInitError{Detail: "failed to start camera", Err: err})
	}

	sessionsStarted.WithLabelValues(mode.String()).Inc()
	s.logger.Info("Scan started", "mode", mode.String(), "session", id, "lens", s.streams[mode].Lens.String())
	return nil
}

// abortStart tears down a half-started scan. Caller holds ctrl.
func (s *Session) abortStart(gen uint64, err error) error {
	s.mu.Lock()
	var res resources
	if s.gen == gen {
		mode := s.mode
		s.emitStatusLocked(PhaseIdle, 0)
		res = s.resetLocked()
		sessionsFinished.WithLabelValues(mode.String(), "failed").Inc()
	}
	s.mu.Unlock()
	s.release(res)

	s.logger.Error("Failed to start scan", "error", err)
	return err
}

// Stop ends the scan in mode. ModeNone stops whatever is running. Stopping
// an idle session, or a mode that is not current, does nothing.
func (s *Session) Stop(mode Mode) {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	if s.mode == ModeNone || (mode != ModeNone && mode != s.mode) {
		s.mu.Unlock()
		return
	}
	active, phase, id := s.mode, s.phase, s.id
	s.emitStatusLocked(PhaseIdle, 0)
	res := s.resetLocked()
	s.mu.Unlock()
	s.release(res)

	if phase != PhaseSuccess {
		sessionsFinished.WithLabelValues(active.String(), "stopped").Inc()
	}
	s.logger.Info("Scan stopped", "mode", active.String(), "session", id, "phase", string(phase))
}

// Close stops any running scan.
func (s *Session) Close() error {
	s.Stop(ModeNone)
	return nil
}

// Snapshot returns the current state. After a success the camera and
// detector are already released, but the snapshot keeps the mode with
// phase success and progress 100 until the next Stop or Start.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := s.dropped
	if s.worker != nil {
		dropped += int(s.worker.dropped.Load())
	}
	return Snapshot{
		Mode:           s.mode.String(),
		Phase:          s.phase,
		Progress:       s.progress,
		Session:        s.id,
		StartedAt:      s.startedAt,
		Stability:      s.stability,
		FramesAnalyzed: s.analyzed,
		FramesDropped:  dropped,
	}
}

// accepting reports whether results for gen would still be applied.
func (s *Session) accepting(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.phase == PhaseScanning
}

// handleResult applies one detector outcome. Results from an earlier
// generation, or arriving after the scan left the scanning phase, are ignored.
func (s *Session) handleResult(gen uint64, res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.phase != PhaseScanning {
		return
	}
	if err != nil {
		detectorErrors.WithLabelValues(s.mode.String()).Inc()
		s.logger.Debug("Frame analysis failed", "error", err)
		return
	}

	s.analyzed++
	framesAnalyzed.WithLabelValues(s.mode.String()).Inc()

	elapsed := s.now().Sub(s.startedAt)
	if p := s.policy.Progress(s.mode, elapsed); p > s.progress {
		s.progress = p
	}
	s.emitStatusLocked(PhaseScanning, s.progress)

	switch s.mode {
	case ModeQR:
		text := res.FirstValue()
		if text != "" && elapsed > s.policy.QRMinElapsed {
			s.pending = text
			s.verifyLocked(gen)
		}
	case ModeFace:
		if len(res.Matches) > 0 {
			s.stability++
		} else if s.stability > 0 {
			s.stability--
		}
		if s.stability >= s.policy.StableFrames && elapsed > s.policy.FaceMinElapsed {
			s.emitLocked(EventFaceDetected, FaceDetected{Stable: true})
			s.verifyLocked(gen)
		}
	}
}

// verifyLocked enters the verifying phase and schedules confirmation.
func (s *Session) verifyLocked(gen uint64) {
	s.phase = PhaseVerifying
	s.progress = s.policy.VerifyingProgress
	s.emitStatusLocked(PhaseVerifying, s.policy.VerifyingProgress)
	s.confirm = s.sched.AfterFunc(s.policy.ConfirmDelay, func() { s.confirmSuccess(gen) })
}

// confirmSuccess completes a verification. The scan reports success and
// releases its camera and detector; the success phase lasts until the next
// Start or Stop.
func (s *Session) confirmSuccess(gen uint64) {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.phase != PhaseVerifying {
		s.mu.Unlock()
		return
	}
	mode, id := s.mode, s.id
	s.phase = PhaseSuccess
	s.progress = 100
	s.confirm = nil
	s.emitStatusLocked(PhaseSuccess, 100)
	if mode == ModeQR {
		s.emitLocked(EventQRDetected, QRDetected{Text: s.pending})
	}
	timeToSuccess.WithLabelValues(mode.String()).Observe(s.now().Sub(s.startedAt).Seconds())
	s.gen++
	res := s.takeResourcesLocked()
	s.mu.Unlock()
	s.release(res)

	sessionsFinished.WithLabelValues(mode.String(), "success").Inc()
	s.logger.Info("Scan succeeded", "mode", mode.String(), "session", id)
}

type resources struct {
	unbind   bool
	worker   *analyzer
	detector Detector
}

// takeResourcesLocked detaches the camera binding, worker and detector so
// they can be released outside mu.
func (s *Session) takeResourcesLocked() resources {
	res := resources{unbind: s.bound, worker: s.worker, detector: s.detector}
	if s.worker != nil {
		s.dropped += int(s.worker.dropped.Load())
	}
	if s.confirm != nil {
		s.confirm.Stop()
		s.confirm = nil
	}
	s.bound = false
	s.worker = nil
	s.detector = nil
	return res
}

// resetLocked returns the session to idle without emitting anything and
// invalidates every callback of the previous generation.
func (s *Session) resetLocked() resources {
	res := s.takeResourcesLocked()
	s.gen++
	s.mode = ModeNone
	s.phase = PhaseIdle
	s.id = ""
	s.startedAt = time.Time{}
	s.progress = 0
	s.stability = 0
	s.analyzed = 0
	s.dropped = 0
	s.pending = ""
	return res
}

// release stops frame delivery first, then the worker, then the detector
// the worker was using.
func (s *Session) release(res resources) {
	if res.unbind {
		if err := s.camera.Unbind(); err != nil {
			s.logger.Warn("Failed to unbind camera", "error", err)
		}
	}
	if res.worker != nil {
		res.worker.close()
	}
	if res.detector != nil {
		if err := res.detector.Close(); err != nil {
			s.logger.Warn("Failed to close detector", "error", err)
		}
	}
}

func (s *Session) emitStatusLocked(phase Phase, progress int) {
	s.emitLocked(statusEventName(s.mode), StatusEvent{Phase: phase, Progress: progress})
}

func (s *Session) emitLocked(name string, payload any) {
	s.seq++
	s.sink.Emit(Event{Name: name, Payload: payload, Session: s.id, Seq: s.seq, Time: s.now()})
}
