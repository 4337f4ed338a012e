package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/orchestrator"
)

// #region synthetic-camera

// SyntheticCamera is a linear sensor model. It writes no files; the artifact is the
// requested path and the brightness travels with the result.
type SyntheticCamera struct {
	Offset  float64
	Divisor float64
	fail    map[int]bool
	calls   int
}

// NewSyntheticCamera builds the camera described by a fixture.
func NewSyntheticCamera(fc FixtureCamera) *SyntheticCamera {
	fail := make(map[int]bool, len(fc.FailCalls))
	for _, n := range fc.FailCalls {
		fail[n] = true
	}
	return &SyntheticCamera{Offset: fc.Offset, Divisor: fc.Divisor, fail: fail}
}

// MeanAt is the brightness the sensor produces at exposureUs.
func (c *SyntheticCamera) MeanAt(exposureUs int64) float64 {
	m := c.Offset + float64(exposureUs)/c.Divisor
	switch {
	case m < 0:
		return 0
	case m > 255:
		return 255
	}
	return m
}

// Calls is the number of captures taken so far.
func (c *SyntheticCamera) Calls() int { return c.calls }

// Capture implements camera.Capturer.
func (c *SyntheticCamera) Capture(_ context.Context, req camera.Request) camera.Result {
	c.calls++
	if c.fail[c.calls] {
		return camera.Result{ReturnCode: 1, Stderr: fmt.Sprintf("synthetic failure on call %d", c.calls)}
	}
	mean := c.MeanAt(req.ExposureUs)
	return camera.Result{ReturnCode: 0, Artifact: req.OutPath, Mean: &mean}
}

// #endregion synthetic-camera

// #region types

// ScenarioResult captures the outcome of one replayed scenario.
type ScenarioResult struct {
	Name          string
	Decision      string
	Iterations    int
	Exposures     []int64 // requested exposure per iteration
	FinalExposure int64
	FinalMean     *float64 // nil when the final capture failed
	Calls         int
	Passed        bool
	Failures      []string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total      int
	Passed     int
	Failed     int
	ByDecision map[string]int
}

// #endregion types

// #region replay

// Replay runs every scenario of f through the convergence loop and the final stage,
// entirely in memory, and checks each against its expectations.
func Replay(ctx context.Context, f *Fixture, logger *slog.Logger) ([]ScenarioResult, error) {
	results := make([]ScenarioResult, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		r, err := RunScenario(ctx, sc, logger)
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// RunScenario replays one scenario.
func RunScenario(ctx context.Context, sc FixtureScenario, logger *slog.Logger) (ScenarioResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	settings := sc.Settings.ToSettings()
	cam := NewSyntheticCamera(sc.Camera)
	opts := orchestrator.Options{KeepIntermediates: true}
	log := logger.With("scenario", sc.Name)

	ctrl := orchestrator.NewController(cam, nil, nil, settings, opts, log)
	conv, err := ctrl.Converge(ctx, sc.Name, sc.SeedUs)
	if err != nil {
		return ScenarioResult{}, err
	}

	res := ScenarioResult{
		Name:       sc.Name,
		Decision:   conv.Decision.Kind(),
		Iterations: len(conv.Attempts),
	}
	for _, a := range conv.Attempts {
		res.Exposures = append(res.Exposures, a.Exposure)
	}
	res.FinalExposure, _ = exposure.ResultExposure(conv.Decision)

	if conv.Selected != nil {
		res.FinalMean = conv.Selected.Outcome.MeanBrightness
	} else {
		retrier := orchestrator.NewFinalCaptureRetrier(cam, settings.RetryCount, log)
		attempts := retrier.Capture(ctx, camera.Request{ExposureUs: res.FinalExposure, Gains: settings.Gains, OutPath: sc.Name + "_final.jpg"})
		if last := attempts[len(attempts)-1]; last.Succeeded() {
			res.FinalMean = last.Mean
		}
	}
	res.Calls = cam.Calls()

	res.Failures = check(sc.Expect, res)
	res.Passed = len(res.Failures) == 0
	return res, nil
}

func check(want FixtureExpect, got ScenarioResult) []string {
	var failures []string
	if want.Decision != "" && want.Decision != got.Decision {
		failures = append(failures, fmt.Sprintf("decision %s, want %s", got.Decision, want.Decision))
	}
	if want.MaxIterations > 0 && got.Iterations > want.MaxIterations {
		failures = append(failures, fmt.Sprintf("%d iterations, want at most %d", got.Iterations, want.MaxIterations))
	}
	if want.FinalExposure > 0 && got.FinalExposure != want.FinalExposure {
		failures = append(failures, fmt.Sprintf("final exposure %dus, want %dus", got.FinalExposure, want.FinalExposure))
	}
	if want.MinMean > 0 || want.MaxMean > 0 {
		switch {
		case got.FinalMean == nil:
			failures = append(failures, "no final brightness")
		case *got.FinalMean < want.MinMean:
			failures = append(failures, fmt.Sprintf("final mean %.2f below %.2f", *got.FinalMean, want.MinMean))
		case want.MaxMean > 0 && *got.FinalMean > want.MaxMean:
			failures = append(failures, fmt.Sprintf("final mean %.2f above %.2f", *got.FinalMean, want.MaxMean))
		}
	}
	return failures
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ScenarioResult) ReplaySummary {
	s := ReplaySummary{
		Total:      len(results),
		ByDecision: make(map[string]int),
	}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		s.ByDecision[r.Decision]++
	}
	return s
}

// #endregion replay
