package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// Encode renders ev as a JSON envelope.
func Encode(ev scan.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Multi emits to every sink in order.
type Multi []scan.EventSink

func (m Multi) Emit(ev scan.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// LogSink writes events to a logger. Status updates go to debug, detections
// to info.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Emit(ev scan.Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if ev.Name == scan.EventQRDetected || ev.Name == scan.EventFaceDetected {
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, "Scan event",
		"type", ev.Name, "session", ev.Session, "seq", ev.Seq, "payload", ev.Payload)
}

// History keeps the most recent events in a ring.
type History struct {
	mu     sync.Mutex
	events []scan.Event
	next   int
	full   bool
}

// NewHistory returns a history holding up to size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 256
	}
	return &History{events: make([]scan.Event, size)}
}

func (h *History) Emit(ev scan.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = ev
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// Since returns retained events with Seq greater than seq, oldest first.
func (h *History) Since(seq uint64) []scan.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []scan.Event
	if h.full {
		ordered = append(ordered, h.events[h.next:]...)
	}
	ordered = append(ordered, h.events[:h.next]...)

	out := make([]scan.Event, 0, len(ordered))
	for _, ev := range ordered {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
