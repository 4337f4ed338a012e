package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/logging"
)

// #endregion

// #region controller-struct

// Controller runs the capture-measure-decide loop for one run.
type Controller struct {
	capturer camera.Capturer
	measurer Measurer
	sink     logging.Sink
	settings exposure.Settings
	opts     Options
	logger   *slog.Logger
}

// NewController wires a convergence loop. A nil sink discards manifest records.
func NewController(capturer camera.Capturer, measurer Measurer, sink logging.Sink, settings exposure.Settings, opts Options, logger *slog.Logger) *Controller {
	if sink == nil {
		sink = logging.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		capturer: capturer,
		measurer: measurer,
		sink:     sink,
		settings: settings,
		opts:     opts,
		logger:   logger,
	}
}

// #endregion

// #region converge

// Converge searches for an exposure starting from seed. It stops at the first terminal
// decision or after LoopIterations attempts. The only errors are invalid settings and
// cancellation of ctx between attempts.
func (c *Controller) Converge(ctx context.Context, runID string, seed int64) (ConvergeResult, error) {
	s := c.settings
	if err := s.Validate(); err != nil {
		return ConvergeResult{}, err
	}

	st := exposure.NewState(seed, s)
	if st.CurrentExposure != seed {
		c.logger.Info("converge: seed clamped", "seed_us", seed, "clamped_us", st.CurrentExposure)
	}

	var res ConvergeResult
	for i := 1; i <= s.LoopIterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("converge: %w", err)
		}
		st.Iteration = i

		att := c.capture(ctx, runID, i, st.CurrentExposure)
		if att.Result.DryRun {
			res.Attempts = append(res.Attempts, att)
			res.Decision = exposure.ExhaustedIterations{Last: st.CurrentExposure}
			res.DryRun = true
			c.logger.Info("converge: dry run, skipping exposure adjustments", "exposure_us", st.CurrentExposure)
			return res, nil
		}

		att.Step = exposure.Step(&st, s, att.Outcome)
		res.Attempts = append(res.Attempts, att)
		c.logStep(att)

		d := att.Step.Decision
		if exposure.Reusable(d) {
			res.Decision = d
			res.Selected = &res.Attempts[len(res.Attempts)-1]
			return res, nil
		}
		c.discard(att.Outcome.Artifact)
		if d.Terminal() {
			res.Decision = d
			return res, nil
		}
	}

	res.Decision = exposure.ExhaustedIterations{Last: st.CurrentExposure}
	c.logger.Info("converge: iteration budget exhausted",
		"iterations", s.LoopIterations, "exposure_us", st.CurrentExposure)
	return res, nil
}

// #endregion

// #region capture

// capture takes and measures one iteration image and hands its manifest row to the sink.
func (c *Controller) capture(ctx context.Context, runID string, i int, exposureUs int64) Attempt {
	ts := c.opts.now().Format(fileTimeLayout)
	path := filepath.Join(c.opts.OutDir, fmt.Sprintf("rpicam_%s_iter%d.jpg", ts, i))

	c.logger.Debug("converge: capturing", "iteration", i, "exposure_us", exposureUs, "path", path)
	result := c.capturer.Capture(ctx, camera.Request{
		ExposureUs: exposureUs,
		Gains:      c.settings.Gains,
		OutPath:    path,
	})

	att := Attempt{
		Index:     i,
		Stage:     logging.IterStage(i),
		Timestamp: ts,
		Exposure:  exposureUs,
		Result:    result,
		Outcome:   outcomeOf(result, c.measurer),
	}

	filename := result.Artifact
	if filename == "" {
		filename = path
	}
	c.sink.Record(logging.AttemptRecord{
		RunID:              runID,
		Stage:              att.Stage,
		Timestamp:          ts,
		Filename:           filename,
		RequestedShutterUs: exposureUs,
		Gains:              c.settings.Gains,
		ReturnCode:         result.ReturnCodeLabel(),
		Stderr:             result.Stderr,
		Metadata:           result.Metadata,
		Mean:               att.Outcome.MeanBrightness,
		Notes:              failureNote(result),
	})
	return att
}

// outcomeOf converts a camera result into what the controller reasons about. The
// brightness comes from the capturer when it measured remotely, otherwise from m.
func outcomeOf(res camera.Result, m Measurer) exposure.CaptureOutcome {
	out := exposure.CaptureOutcome{
		Succeeded: res.Succeeded(),
		Artifact:  res.Artifact,
		Metadata:  res.Metadata,
	}
	if !out.Succeeded {
		return out
	}
	if res.Mean != nil {
		mean := *res.Mean
		out.MeanBrightness = &mean
		return out
	}
	if m != nil {
		if mean, ok := m.Measure(res.Artifact); ok {
			out.MeanBrightness = &mean
		}
	}
	return out
}

func failureNote(res camera.Result) string {
	switch {
	case res.DryRun, res.Succeeded():
		return ""
	case res.ReturnCode == 0:
		return "rpicam-still wrote no image"
	}
	return fmt.Sprintf("rpicam-still failed (code %d)", res.ReturnCode)
}

// #endregion

// #region cleanup

// discard removes an intermediate image unless intermediates are kept. Failures are ignored.
func (c *Controller) discard(path string) {
	if path == "" || c.opts.KeepIntermediates {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("converge: intermediate not removed", "path", path, "error", err)
	}
}

// #endregion

// #region logging

func (c *Controller) logStep(att Attempt) {
	m := att.Step.Metrics
	attrs := []any{
		"iteration", att.Index,
		"exposure_us", att.Exposure,
		"decision", att.Step.Decision.Kind(),
	}
	if att.Outcome.MeanBrightness == nil {
		attrs = append(attrs, "return_code", att.Result.ReturnCodeLabel())
		if msg := strings.TrimSpace(att.Result.Stderr); msg != "" {
			attrs = append(attrs, "stderr", msg)
		}
		c.logger.Warn("converge: no measurement, holding exposure", attrs...)
		return
	}
	attrs = append(attrs, "mean", m.Mean, "diff_pct", m.DiffPct)
	if next, ok := nextExposure(att.Step.Decision); ok {
		attrs = append(attrs, "next_us", next, "factor", m.Factor, "gamma", m.GammaDynamic, "damped", m.Damped)
	}
	c.logger.Info("converge: iteration", attrs...)
}

func nextExposure(d exposure.Decision) (int64, bool) {
	switch v := d.(type) {
	case exposure.Continue:
		return v.Next, true
	case exposure.StoppedAtCeiling:
		return v.Next, true
	}
	return 0, false
}

// #endregion
