package orchestrator

// #region imports
import (
	"time"

	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/state"
)

// #endregion

// #region naming

// fileTimeLayout is the timestamp used in artifact names and the manifest.
const fileTimeLayout = "2006-01-02-15-04-05"

// #endregion

// #region interfaces

// Measurer returns the mean luminance of an image, ok=false when it cannot be read.
type Measurer interface {
	Measure(path string) (mean float64, ok bool)
}

// SeedStore persists the exposure a run settled on.
type SeedStore interface {
	GetCurrent() (state.ExposureRecord, error)
	CommitExposure(rec state.ExposureRecord) error
}

// #endregion

// #region options

// Options control file handling around the capture loop.
type Options struct {
	OutDir            string
	KeepIntermediates bool             // keep iteration images, copy instead of move on reuse
	Now               func() time.Time // clock for file names, time.Now when nil
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// #endregion

// #region attempt

// Attempt is one convergence capture with what was learned from it.
type Attempt struct {
	Index     int
	Stage     string
	Timestamp string
	Exposure  int64
	Result    camera.Result
	Outcome   exposure.CaptureOutcome
	Step      exposure.StepResult
}

// #endregion

// #region converge-result

// ConvergeResult is the terminal state of the convergence loop.
type ConvergeResult struct {
	Decision exposure.Decision
	Attempts []Attempt
	// Selected is the attempt whose artifact is the run result, set for
	// ConvergedWithinTolerance and StoppedAtFloor.
	Selected *Attempt
	DryRun   bool
}

// #endregion

// #region run-result

// RunResult is what a full run reports to its caller.
type RunResult struct {
	RunID         string
	Decision      exposure.Decision
	FinalExposure int64
	Artifact      string   // empty when the final capture failed
	Mean          *float64 // brightness of Artifact when known
	Degraded      bool     // no valid final artifact
	Reused        bool     // final artifact came from the convergence loop
	Iterations    int
	FinalAttempts int
	DryRun        bool
}

// #endregion
