package exposure

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidSettings is wrapped by every settings validation failure.
var ErrInvalidSettings = errors.New("invalid exposure settings")

// #region gain-settings
// AwbGains is a fixed red/blue white-balance pair.
type AwbGains struct {
	Red  float64
	Blue float64
}

// String renders the pair the way rpicam-still expects it ("r,b").
func (a AwbGains) String() string {
	return strconv.FormatFloat(a.Red, 'f', -1, 64) + "," + strconv.FormatFloat(a.Blue, 'f', -1, 64)
}

// GainSettings are applied unchanged to every capture of a run. Nil means "leave to the camera".
type GainSettings struct {
	AnalogGain  *float64
	DigitalGain *float64
	AwbGains    *AwbGains
}
// #endregion gain-settings

// #region settings
// Settings holds the per-run controller parameters. Exposures are in microseconds.
type Settings struct {
	TargetMean           float64 // desired mean luminance (0, 255]
	TolerancePct         float64 // accepted deviation from TargetMean, percent
	MinExposure          int64
	MaxExposure          int64
	MaxChangeFactor      float64 // per-iteration multiplicative cap
	GammaExponent        float64 // exponent at full correction strength
	GammaTransitionError float64 // |normalized error| at which the full exponent applies
	LoopIterations       int
	RetryCount           int // retries for the final capture
	Gains                GainSettings
}

// DefaultSettings returns the field defaults used when the settings store is silent.
func DefaultSettings() Settings {
	return Settings{
		TargetMean:           100,
		TolerancePct:         5.0,
		MinExposure:          100,
		MaxExposure:          240000000,
		MaxChangeFactor:      4.0,
		GammaExponent:        2.2,
		GammaTransitionError: 0.6,
		LoopIterations:       5,
		RetryCount:           2,
	}
}

// Validate rejects settings that would make the control loop meaningless.
func (s Settings) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"target mean", s.TargetMean},
		{"tolerance", s.TolerancePct},
		{"max change factor", s.MaxChangeFactor},
		{"gamma exponent", s.GammaExponent},
		{"gamma transition error", s.GammaTransitionError},
	} {
		if !finite(f.v) {
			return fmt.Errorf("%w: %s %v is not a finite number", ErrInvalidSettings, f.name, f.v)
		}
	}
	g := s.Gains
	if (g.AnalogGain != nil && !finite(*g.AnalogGain)) ||
		(g.DigitalGain != nil && !finite(*g.DigitalGain)) ||
		(g.AwbGains != nil && (!finite(g.AwbGains.Red) || !finite(g.AwbGains.Blue))) {
		return fmt.Errorf("%w: gains must be finite numbers", ErrInvalidSettings)
	}

	switch {
	case s.TargetMean <= 0 || s.TargetMean > 255:
		return fmt.Errorf("%w: target mean %.2f outside (0, 255]", ErrInvalidSettings, s.TargetMean)
	case s.TolerancePct < 0:
		return fmt.Errorf("%w: tolerance %.2f%% is negative", ErrInvalidSettings, s.TolerancePct)
	case s.MinExposure <= 0:
		return fmt.Errorf("%w: min exposure %d must be positive", ErrInvalidSettings, s.MinExposure)
	case s.MinExposure > s.MaxExposure:
		return fmt.Errorf("%w: min exposure %d above max exposure %d", ErrInvalidSettings, s.MinExposure, s.MaxExposure)
	case s.MaxChangeFactor < 1:
		return fmt.Errorf("%w: max change factor %.3f below 1", ErrInvalidSettings, s.MaxChangeFactor)
	case s.GammaTransitionError <= 0:
		return fmt.Errorf("%w: gamma transition error %.3f must be positive", ErrInvalidSettings, s.GammaTransitionError)
	case s.LoopIterations < 1:
		return fmt.Errorf("%w: loop iterations %d below 1", ErrInvalidSettings, s.LoopIterations)
	case s.RetryCount < 0:
		return fmt.Errorf("%w: retry count %d is negative", ErrInvalidSettings, s.RetryCount)
	}
	if g.AnalogGain != nil && *g.AnalogGain <= 0 {
		return fmt.Errorf("%w: analog gain %.3f must be positive", ErrInvalidSettings, *g.AnalogGain)
	}
	if g.DigitalGain != nil && *g.DigitalGain <= 0 {
		return fmt.Errorf("%w: gain %.3f must be positive", ErrInvalidSettings, *g.DigitalGain)
	}
	if g.AwbGains != nil && (g.AwbGains.Red <= 0 || g.AwbGains.Blue <= 0) {
		return fmt.Errorf("%w: awb gains %s must both be positive", ErrInvalidSettings, g.AwbGains)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClampExposure bounds v to [MinExposure, MaxExposure].
func (s Settings) ClampExposure(v int64) int64 {
	if v < s.MinExposure {
		return s.MinExposure
	}
	if v > s.MaxExposure {
		return s.MaxExposure
	}
	return v
}
// #endregion settings

// #region exposure-state
// ExposureState is the mutable controller state for one run. It is owned by a single
// control loop and threaded through Step by pointer.
type ExposureState struct {
	CurrentExposure int64
	LastError       *float64 // target - measured from the previous measured iteration
	SettleCounter   int      // iterations left with damped corrections after an overshoot
	Iteration       int      // 1-based count of attempts made
}

// NewState seeds a run. The seed is clamped into the configured exposure bounds.
func NewState(seed int64, s Settings) ExposureState {
	return ExposureState{CurrentExposure: s.ClampExposure(seed)}
}
// #endregion exposure-state

// #region capture-outcome
// Metadata holds the fields the camera reports about what it actually did.
type Metadata struct {
	ExposureTime *float64
	AnalogueGain *float64
	DigitalGain  *float64
	AwbGains     []float64
	Raw          map[string]any // the full decoded metadata document
}

// CaptureOutcome is everything the controller learns from one capture attempt.
type CaptureOutcome struct {
	Succeeded      bool
	Artifact       string // path of the captured image, empty when nothing was written
	Metadata       *Metadata
	MeanBrightness *float64
}
// #endregion capture-outcome
