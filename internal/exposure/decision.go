package exposure

// #region decision
// Decision is the result of one controller step. The concrete variants below are the
// only implementations; callers type-switch on them.
type Decision interface {
	// Kind is a stable label used in logs, the manifest and the seed history.
	Kind() string
	// Terminal reports whether the convergence loop must stop.
	Terminal() bool
	isDecision()
}

// Continue asks for another capture at Next.
type Continue struct {
	Next int64
}

// ConvergedWithinTolerance accepts the measured artifact as the run result.
type ConvergedWithinTolerance struct {
	Exposure int64
	Artifact string
	Mean     float64
}

// StoppedAtFloor reuses the artifact: still too bright at the minimum exposure.
type StoppedAtFloor struct {
	Exposure int64
	Artifact string
	Mean     float64
}

// StoppedAtCeiling accepts Next even though the image is still too dark at the maximum exposure.
type StoppedAtCeiling struct {
	Next int64
}

// ExhaustedIterations accepts the last exposure after the iteration budget ran out.
type ExhaustedIterations struct {
	Last int64
}

// MeasurementUnavailable keeps the previous exposure; nothing was learned this attempt.
type MeasurementUnavailable struct{}

// Decision kinds.
const (
	KindContinue               = "continue"
	KindConverged              = "converged"
	KindStoppedAtFloor         = "stopped_at_floor"
	KindStoppedAtCeiling       = "stopped_at_ceiling"
	KindExhaustedIterations    = "exhausted_iterations"
	KindMeasurementUnavailable = "measurement_unavailable"
)

func (Continue) Kind() string                 { return KindContinue }
func (ConvergedWithinTolerance) Kind() string { return KindConverged }
func (StoppedAtFloor) Kind() string           { return KindStoppedAtFloor }
func (StoppedAtCeiling) Kind() string         { return KindStoppedAtCeiling }
func (ExhaustedIterations) Kind() string      { return KindExhaustedIterations }
func (MeasurementUnavailable) Kind() string   { return KindMeasurementUnavailable }

func (Continue) Terminal() bool                 { return false }
func (ConvergedWithinTolerance) Terminal() bool { return true }
func (StoppedAtFloor) Terminal() bool           { return true }
func (StoppedAtCeiling) Terminal() bool         { return true }
func (ExhaustedIterations) Terminal() bool      { return true }
func (MeasurementUnavailable) Terminal() bool   { return false }

func (Continue) isDecision()                 {}
func (ConvergedWithinTolerance) isDecision() {}
func (StoppedAtFloor) isDecision()           {}
func (StoppedAtCeiling) isDecision()         {}
func (ExhaustedIterations) isDecision()      {}
func (MeasurementUnavailable) isDecision()   {}

// #endregion decision

// #region result-exposure
// ResultExposure returns the shutter duration a terminal decision settles on.
// ok is false for non-terminal decisions.
func ResultExposure(d Decision) (exposure int64, ok bool) {
	switch v := d.(type) {
	case ConvergedWithinTolerance:
		return v.Exposure, true
	case StoppedAtFloor:
		return v.Exposure, true
	case StoppedAtCeiling:
		return v.Next, true
	case ExhaustedIterations:
		return v.Last, true
	}
	return 0, false
}

// Reusable reports whether the decision already carries the final artifact.
func Reusable(d Decision) bool {
	switch d.(type) {
	case ConvergedWithinTolerance, StoppedAtFloor:
		return true
	}
	return false
}

// #endregion result-exposure
