package interlock

import "errors"

// ErrVetoed is returned for a run the gate refused.
var ErrVetoed = errors.New("capture vetoed")

// Action values of a GateDecision.
const (
	ActionRun   = "run"
	ActionAbort = "abort"
)

// #region veto-type
// VetoType names the condition that refused a run.
type VetoType string

const (
	VetoOffSwitch VetoType = "off_switch"
	VetoOutputDir VetoType = "output_dir"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal is one reason the gate refused a run.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-decision
// GateDecision is the output of the pre-run evaluation.
type GateDecision struct {
	Action      string // "run" | "abort"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
	Debug       bool         // debug switch is set
	Hardware    bool         // at least one pin could be read
}

// Err is nil for a run decision and wraps ErrVetoed otherwise.
func (d GateDecision) Err() error {
	if !d.Vetoed {
		return nil
	}
	return &vetoError{reason: d.Reason}
}

type vetoError struct{ reason string }

func (e *vetoError) Error() string { return ErrVetoed.Error() + ": " + e.reason }
func (e *vetoError) Unwrap() error { return ErrVetoed }

// #endregion gate-decision
