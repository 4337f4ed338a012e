package exposure

import "math"

// #region constants
const (
	settleIterations = 2    // damped iterations after the error changes sign
	settleMaxDelta   = 0.25 // |factor - 1| cap while settling
)

// #endregion constants

// #region step-metrics
// StepMetrics is telemetry about how a step reached its decision. Fields past DiffPct
// are only set when a correction was computed.
type StepMetrics struct {
	Mean         float64
	DiffPct      float64
	Error        float64 // target - mean, positive means too dark
	NormError    float64
	GammaDynamic float64
	RawFactor    float64 // (target/mean)^gamma before damping and clamping
	Factor       float64 // factor actually applied
	Damped       bool    // settle clamp was active this step
	Corrected    bool
}

// StepResult bundles the decision with its telemetry.
type StepResult struct {
	Decision Decision
	Metrics  StepMetrics
}

// #endregion step-metrics

// #region step
// Step evaluates one capture outcome and decides what the loop does next.
// It mutates st only when a correction is applied; a missing measurement leaves st untouched.
// s must have passed Validate.
func Step(st *ExposureState, s Settings, out CaptureOutcome) StepResult {
	if out.MeanBrightness == nil {
		return StepResult{Decision: MeasurementUnavailable{}}
	}
	mean := *out.MeanBrightness
	m := StepMetrics{
		Mean:    mean,
		DiffPct: math.Abs(mean-s.TargetMean) / s.TargetMean * 100,
	}

	if m.DiffPct <= s.TolerancePct {
		return StepResult{
			Decision: ConvergedWithinTolerance{Exposure: st.CurrentExposure, Artifact: out.Artifact, Mean: mean},
			Metrics:  m,
		}
	}

	// Too bright with the shutter already at its shortest.
	if st.CurrentExposure <= s.MinExposure && mean > s.TargetMean {
		return StepResult{
			Decision: StoppedAtFloor{Exposure: st.CurrentExposure, Artifact: out.Artifact, Mean: mean},
			Metrics:  m,
		}
	}

	m.Corrected = true
	m.Error = s.TargetMean - mean
	m.NormError = m.Error / s.TargetMean
	scale := clamp(math.Abs(m.NormError)/s.GammaTransitionError, 0, 1)
	m.GammaDynamic = 1 + (s.GammaExponent-1)*scale

	factor := s.MaxChangeFactor
	if mean > 0 {
		factor = math.Pow(s.TargetMean/mean, m.GammaDynamic)
	}
	m.RawFactor = factor

	if st.LastError != nil && (m.Error > 0) != (*st.LastError > 0) {
		st.SettleCounter = settleIterations
	}
	if st.SettleCounter > 0 {
		factor = clamp(factor, 1-settleMaxDelta, 1+settleMaxDelta)
		st.SettleCounter--
		m.Damped = true
	}

	factor = clamp(factor, 1/s.MaxChangeFactor, s.MaxChangeFactor)
	m.Factor = factor

	next := s.ClampExposure(int64(math.RoundToEven(float64(st.CurrentExposure) * factor)))

	lastErr := m.Error
	st.LastError = &lastErr
	st.CurrentExposure = next

	if next >= s.MaxExposure && mean < s.TargetMean {
		return StepResult{Decision: StoppedAtCeiling{Next: next}, Metrics: m}
	}
	return StepResult{Decision: Continue{Next: next}, Metrics: m}
}

// #endregion step

// #region helpers
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// #endregion helpers
