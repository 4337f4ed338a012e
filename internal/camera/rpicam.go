package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// #region constants
const (
	DefaultBinary = "rpicam-still"
	DefaultWidth  = 9248
	DefaultHeight = 6944

	minTimeoutMs = 5000
	jpegQuality  = 95
	defaultGrace = 10 * time.Second
)

// #endregion constants

// #region invoker
type runFunc func(ctx context.Context, name string, args []string) (stdout, stderr string, code int, err error)

// Invoker runs rpicam-still for each capture.
type Invoker struct {
	Binary      string
	CameraIndex int
	Width       int
	Height      int
	DryRun      bool
	// Grace is added to the camera's own timeout before the process is killed.
	Grace time.Duration

	run    runFunc
	logger *slog.Logger
}

// NewInvoker creates an invoker with the default binary and full sensor resolution.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		Binary: DefaultBinary,
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Grace:  defaultGrace,
		run:    execRun,
		logger: logger,
	}
}

// #endregion invoker

// #region build-args
// TimeoutMs is the -t value given to the camera: never below 5s, and 5s past the shutter.
func TimeoutMs(exposureUs int64) int64 {
	t := exposureUs/1000 + minTimeoutMs
	if t < minTimeoutMs {
		return minTimeoutMs
	}
	return t
}

// BuildArgs returns the rpicam-still arguments for req (without the binary name).
func (inv *Invoker) BuildArgs(req Request) []string {
	args := []string{
		"--camera", strconv.Itoa(inv.CameraIndex),
		"--width", strconv.Itoa(inv.Width),
		"--height", strconv.Itoa(inv.Height),
		"--shutter", strconv.FormatInt(req.ExposureUs, 10),
		"--nopreview", "1",
		"-t", strconv.FormatInt(TimeoutMs(req.ExposureUs), 10) + "ms",
		"-o", req.OutPath,
		"--quality", strconv.Itoa(jpegQuality),
		"--metadata", "-",
		"--metadata-format", "json",
	}
	if req.EV != nil {
		args = append(args, "--ev", strconv.FormatFloat(*req.EV, 'f', -1, 64))
	}
	g := req.Gains
	if g.AnalogGain != nil {
		args = append(args, "--analoggain", strconv.FormatFloat(*g.AnalogGain, 'f', -1, 64))
	}
	if g.DigitalGain != nil {
		args = append(args, "--gain", strconv.FormatFloat(*g.DigitalGain, 'f', -1, 64))
	}
	if g.AwbGains != nil {
		args = append(args, "--awbgains", g.AwbGains.String())
	}
	return args
}

// #endregion build-args

// #region capture
// Capture runs one rpicam-still invocation. The process is killed once the camera
// timeout plus Grace has elapsed.
func (inv *Invoker) Capture(ctx context.Context, req Request) Result {
	args := inv.BuildArgs(req)
	inv.logger.Debug("rpicam: capture planned", "binary", inv.Binary, "shutter_us", req.ExposureUs, "out", req.OutPath, "args", args)

	if inv.DryRun {
		return Result{DryRun: true}
	}

	deadline := time.Duration(TimeoutMs(req.ExposureUs))*time.Millisecond + inv.Grace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	stdout, stderr, code, err := inv.run(runCtx, inv.Binary, args)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{ReturnCode: ReturnCodeNotFound, Stderr: inv.Binary + " not found"}
		}
		if runCtx.Err() != nil {
			return Result{ReturnCode: ReturnCodeAborted, Stdout: stdout, Stderr: fmt.Sprintf("capture aborted: %v", runCtx.Err())}
		}
		if code == 0 {
			code = ReturnCodeStartFailed
		}
		return Result{ReturnCode: code, Stdout: stdout, Stderr: stderrOr(stderr, err)}
	}

	res := Result{
		ReturnCode: code,
		Stdout:     stdout,
		Stderr:     stderr,
		Metadata:   ExtractMetadata(stdout),
	}
	if code == 0 {
		if _, statErr := os.Stat(req.OutPath); statErr == nil {
			res.Artifact = req.OutPath
		}
	}
	return res
}

func stderrOr(stderr string, err error) string {
	if stderr != "" {
		return stderr
	}
	return err.Error()
}

// execRun runs the binary. A non-zero exit is reported through code with a nil error.
func execRun(ctx context.Context, name string, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.String(), stderr.String(), 0, err
	}
	return stdout.String(), stderr.String(), 0, nil
}

// #endregion capture
