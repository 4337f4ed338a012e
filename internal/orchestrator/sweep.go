package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/logging"
)

// #endregion

// #region plan

// SweepPlan is a grid of diagnostic captures: every exposure with every EV value.
type SweepPlan struct {
	ExposuresUs []int64
	EVs         []float64
	Gains       exposure.GainSettings
}

// Linspace returns count evenly spaced exposures from start to end inclusive.
func Linspace(start, end int64, count int) []int64 {
	if count <= 1 {
		return []int64{start}
	}
	step := float64(end-start) / float64(count-1)
	out := make([]int64, count)
	for i := range out {
		out[i] = start + int64(math.Round(float64(i)*step))
	}
	return out
}

// Frange returns start, start+step, ... up to end inclusive. A zero step yields start only.
func Frange(start, end, step float64) []float64 {
	const eps = 1e-12
	if step == 0 {
		return []float64{start}
	}
	var out []float64
	for i := 0; ; i++ {
		v := start + float64(i)*step
		if (step > 0 && v > end+eps) || (step < 0 && v < end-eps) {
			break
		}
		out = append(out, v)
	}
	return out
}

// #endregion

// #region sweep

// SweepPoint is one capture of a sweep.
type SweepPoint struct {
	ExposureUs int64
	EV         float64
	Result     camera.Result
	Mean       *float64
}

// Sweeper captures a SweepPlan and records every point to the manifest.
type Sweeper struct {
	capturer camera.Capturer
	measurer Measurer
	sink     logging.Sink
	opts     Options
	logger   *slog.Logger
}

// NewSweeper wires a sweep. A nil sink discards manifest records.
func NewSweeper(capturer camera.Capturer, measurer Measurer, sink logging.Sink, opts Options, logger *slog.Logger) *Sweeper {
	if sink == nil {
		sink = logging.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{capturer: capturer, measurer: measurer, sink: sink, opts: opts, logger: logger}
}

// Run captures the grid in order. It stops early only when ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, plan SweepPlan) (string, []SweepPoint, error) {
	runID := uuid.NewString()
	points := make([]SweepPoint, 0, len(plan.ExposuresUs)*len(plan.EVs))

	for _, us := range plan.ExposuresUs {
		for _, ev := range plan.EVs {
			if err := ctx.Err(); err != nil {
				return runID, points, fmt.Errorf("sweep: %w", err)
			}
			points = append(points, s.capture(ctx, runID, us, ev, plan.Gains))
		}
	}
	return runID, points, nil
}

func (s *Sweeper) capture(ctx context.Context, runID string, us int64, ev float64, gains exposure.GainSettings) SweepPoint {
	ts := s.opts.now().Format(fileTimeLayout)
	path := filepath.Join(s.opts.OutDir, fmt.Sprintf("rpicam_%s_ex%dus_ev%+.2f.jpg", ts, us, ev))

	evCopy := ev
	res := s.capturer.Capture(ctx, camera.Request{ExposureUs: us, Gains: gains, EV: &evCopy, OutPath: path})
	outcome := outcomeOf(res, s.measurer)

	s.sink.Record(logging.AttemptRecord{
		RunID:              runID,
		Stage:              logging.StageSweep,
		Timestamp:          ts,
		Filename:           path,
		RequestedShutterUs: us,
		Gains:              gains,
		ReturnCode:         res.ReturnCodeLabel(),
		Stderr:             res.Stderr,
		Metadata:           res.Metadata,
		Mean:               outcome.MeanBrightness,
		Notes:              joinNotes(fmt.Sprintf("ev=%+.2f", ev), failureNote(res)),
	})

	attrs := []any{"exposure_us", us, "ev", ev, "return_code", res.ReturnCodeLabel()}
	if outcome.MeanBrightness != nil {
		attrs = append(attrs, "mean", *outcome.MeanBrightness)
	}
	s.logger.Info("sweep: point", attrs...)

	return SweepPoint{ExposureUs: us, EV: ev, Result: res, Mean: outcome.MeanBrightness}
}

// joinNotes joins manifest notes with "; ", skipping empty parts.
func joinNotes(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}

// #endregion
