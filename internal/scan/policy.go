package scan

import (
	"errors"
	"time"
)

// Policy holds the debounce thresholds and progress pacing of a session.
type Policy struct {
	QRMinElapsed     time.Duration // decoded value ignored before this
	FaceMinElapsed   time.Duration // stable face ignored before this
	StableFrames     int           // face frames required, misses count down
	ConfirmDelay     time.Duration // verifying -> success
	QRProgressRate   time.Duration // elapsed time per progress unit
	FaceProgressRate time.Duration

	// Progress bounds while scanning; verifying and success are fixed.
	MinProgress       int
	MaxProgress       int
	VerifyingProgress int
}

// DefaultPolicy returns the thresholds the host UI is tuned for.
func DefaultPolicy() Policy {
	return Policy{
		QRMinElapsed:      1200 * time.Millisecond,
		FaceMinElapsed:    1500 * time.Millisecond,
		StableFrames:      5,
		ConfirmDelay:      800 * time.Millisecond,
		QRProgressRate:    15 * time.Millisecond,
		FaceProgressRate:  20 * time.Millisecond,
		MinProgress:       10,
		MaxProgress:       70,
		VerifyingProgress: 85,
	}
}

// Validate checks the policy for values that would stall a session.
func (p Policy) Validate() error {
	if p.QRProgressRate <= 0 || p.FaceProgressRate <= 0 {
		return errors.New("progress rates must be positive")
	}
	if p.StableFrames <= 0 {
		return errors.New("stable frames must be positive")
	}
	if p.ConfirmDelay < 0 || p.QRMinElapsed < 0 || p.FaceMinElapsed < 0 {
		return errors.New("durations must not be negative")
	}
	if p.MinProgress < 0 || p.MinProgress > p.MaxProgress || p.MaxProgress >= p.VerifyingProgress ||
		p.VerifyingProgress >= 100 {
		return errors.New("progress bounds must satisfy 0 <= min <= max < verifying < 100")
	}
	return nil
}

// Progress converts elapsed scan time into a progress value in [min, max].
func (p Policy) Progress(mode Mode, elapsed time.Duration) int {
	rate := p.QRProgressRate
	if mode == ModeFace {
		rate = p.FaceProgressRate
	}
	v := int(elapsed / rate)
	if v > p.MaxProgress {
		v = p.MaxProgress
	}
	if v < p.MinProgress {
		v = p.MinProgress
	}
	return v
}
