package scan

import (
	"image"
	"time"
)

// Mode selects which detector is bound to the camera.
type Mode int

const (
	ModeNone Mode = iota
	ModeQR
	ModeFace
)

func (m Mode) String() string {
	switch m {
	case ModeQR:
		return "qr"
	case ModeFace:
		return "face"
	default:
		return "none"
	}
}

// ParseMode maps "qr" and "face" to their modes.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "qr":
		return ModeQR, true
	case "face":
		return ModeFace, true
	default:
		return ModeNone, false
	}
}

// Phase is the coarse status reported to the host.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScanning  Phase = "scanning"
	PhaseVerifying Phase = "verifying"
	PhaseSuccess   Phase = "success"
)

// Event names as seen by the host application.
const (
	EventQRStatus     = "qrStatus"
	EventQRDetected   = "qrDetected"
	EventFaceStatus   = "faceStatus"
	EventFaceDetected = "faceDetected"
)

// StatusEvent is the payload of qrStatus and faceStatus.
type StatusEvent struct {
	Phase    Phase `json:"phase"`
	Progress int   `json:"progress"`
}

// QRDetected is the payload of qrDetected.
type QRDetected struct {
	Text string `json:"text"`
}

// FaceDetected is the payload of faceDetected.
type FaceDetected struct {
	Stable bool `json:"stable"`
}

// Event is a named payload pushed to the event sink.
type Event struct {
	Name    string    `json:"type"`
	Payload any       `json:"payload"`
	Session string    `json:"session,omitempty"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
}

// statusEventName returns the status event emitted for a mode.
func statusEventName(m Mode) string {
	if m == ModeFace {
		return EventFaceStatus
	}
	return EventQRStatus
}

// Lens is the camera facing requested for a stream.
type Lens int

const (
	LensBack Lens = iota
	LensFront
)

func (l Lens) String() string {
	if l == LensFront {
		return "front"
	}
	return "back"
}

// StreamConfig describes the frames a camera must deliver.
type StreamConfig struct {
	Lens   Lens
	Width  int
	Height int
}

// Frame is a single analysed image. Release must be called exactly once
// by whoever ends up owning the frame.
type Frame struct {
	Image     image.Image
	Rotation  int
	Seq       uint64
	Timestamp time.Time

	release func()
}

// NewFrame wraps an image; release may be nil.
func NewFrame(img image.Image, seq uint64, ts time.Time, release func()) Frame {
	return Frame{Image: img, Seq: seq, Timestamp: ts, release: release}
}

// Release returns the frame's resources to its source.
func (f Frame) Release() {
	if f.release != nil {
		f.release()
	}
}

// Match is one detector hit: a decoded payload for barcodes, a box for faces.
type Match struct {
	Value  string          `json:"value,omitempty"`
	Bounds image.Rectangle `json:"bounds"`
	Score  float64         `json:"score"`
}

// Result is the detector output for one frame.
type Result struct {
	Matches []Match
}

// FirstValue returns the decoded value of the first match, if any.
func (r Result) FirstValue() string {
	if len(r.Matches) == 0 {
		return ""
	}
	return r.Matches[0].Value
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	Mode           string    `json:"mode"`
	Phase          Phase     `json:"phase"`
	Progress       int       `json:"progress"`
	Session        string    `json:"session,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Stability      int       `json:"stability"`
	FramesAnalyzed int       `json:"frames_analyzed"`
	FramesDropped  int       `json:"frames_dropped"`
}
