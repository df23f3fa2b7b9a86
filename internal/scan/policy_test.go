package scan

import (
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Progress(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		mode    Mode
		elapsed time.Duration
		want    int
	}{
		{ModeQR, 0, 10},
		{ModeQR, 149 * time.Millisecond, 10},
		{ModeQR, 150 * time.Millisecond, 10},
		{ModeQR, 450 * time.Millisecond, 30},
		{ModeQR, 1050 * time.Millisecond, 70},
		{ModeQR, time.Minute, 70},
		{ModeFace, 200 * time.Millisecond, 10},
		{ModeFace, 600 * time.Millisecond, 30},
		{ModeFace, 1400 * time.Millisecond, 70},
		{ModeFace, 10 * time.Second, 70},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.mode, tt.elapsed), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Progress(tt.mode, tt.elapsed))
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero qr rate", func(p *Policy) { p.QRProgressRate = 0 }},
		{"zero face rate", func(p *Policy) { p.FaceProgressRate = 0 }},
		{"no stable frames", func(p *Policy) { p.StableFrames = 0 }},
		{"negative delay", func(p *Policy) { p.ConfirmDelay = -time.Second }},
		{"min above max", func(p *Policy) { p.MinProgress = 80 }},
		{"max reaches verifying", func(p *Policy) { p.MaxProgress = 85 }},
		{"verifying reaches success", func(p *Policy) { p.VerifyingProgress = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "", ErrorType(nil))
	assert.Equal(t, "no_activity", ErrorType(ErrNoActivity))
	assert.Equal(t, "permission_denied", ErrorType(fmt.Errorf("start: %w", ErrPermissionDenied)))
	assert.Equal(t, "camera_init", ErrorType(&CameraInitError{Detail: "failed to start camera", Err: errors.New("busy")}))
	assert.Equal(t, "internal", ErrorType(errors.New("boom")))

	err := &CameraInitError{Detail: "failed to start camera", Err: errors.New("busy")}
	assert.Equal(t, "camera init error: failed to start camera: busy", err.Error())
	assert.Equal(t, "camera init error: no lens", (&CameraInitError{Detail: "no lens"}).Error())
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("qr")
	assert.True(t, ok)
	assert.Equal(t, ModeQR, m)

	m, ok = ParseMode("face")
	assert.True(t, ok)
	assert.Equal(t, ModeFace, m)

	_, ok = ParseMode("barcode")
	assert.False(t, ok)
	assert.Equal(t, "none", ModeNone.String())
}

func TestResult_FirstValue(t *testing.T) {
	assert.Equal(t, "", Result{}.FirstValue())
	r := Result{Matches: []Match{{Value: "a", Bounds: image.Rect(0, 0, 1, 1)}, {Value: "b"}}}
	assert.Equal(t, "a", r.FirstValue())
}

func TestFrame_ReleaseNil(t *testing.T) {
	f := NewFrame(nil, 1, time.Time{}, nil)
	assert.NotPanics(t, f.Release)
}
