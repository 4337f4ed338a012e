package camera

import (
	"context"
	"strconv"

	"github.com/mothbox/winter-capture/internal/exposure"
)

// #region return-codes
const (
	// ReturnCodeDryRun marks a capture that was planned but not executed.
	ReturnCodeDryRun = "DRY-RUN"
	// ReturnCodeNotFound is reported when the capture binary is missing.
	ReturnCodeNotFound = -1
	// ReturnCodeAborted is reported when the capture was killed by its deadline or cancelled.
	ReturnCodeAborted = -2
	// ReturnCodeStartFailed is reported when the binary exists but could not be run.
	ReturnCodeStartFailed = -3
	// ReturnCodeTransport is reported when a remote capture never reached the camera host.
	ReturnCodeTransport = -4
)

// #endregion return-codes

// #region request
// Request describes one still capture.
type Request struct {
	ExposureUs int64
	Gains      exposure.GainSettings
	EV         *float64 // exposure compensation, sweeps only
	OutPath    string
}

// #endregion request

// #region result
// Result is the raw outcome of a capture invocation.
type Result struct {
	ReturnCode int
	DryRun     bool
	Stdout     string
	Stderr     string
	Metadata   *exposure.Metadata
	Artifact   string   // path written by the camera, empty on failure
	Mean       *float64 // brightness measured next to the camera (remote backend only)
}

// Succeeded reports a zero exit with an artifact on disk.
func (r Result) Succeeded() bool {
	return !r.DryRun && r.ReturnCode == 0 && r.Artifact != ""
}

// ReturnCodeLabel renders the return code the way the manifest stores it.
func (r Result) ReturnCodeLabel() string {
	if r.DryRun {
		return ReturnCodeDryRun
	}
	return strconv.Itoa(r.ReturnCode)
}

// #endregion result

// #region capturer
// Capturer takes one still. Implementations block until the capture finishes or fails
// and must return a failed Result rather than hang.
type Capturer interface {
	Capture(ctx context.Context, req Request) Result
}

// #endregion capturer
