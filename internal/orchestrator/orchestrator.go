package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/logging"
	"github.com/mothbox/winter-capture/internal/state"
)

// #endregion

// #region runner-struct

// Runner executes one full take: convergence, the final stage and seed persistence.
type Runner struct {
	controller *Controller
	retrier    *FinalCaptureRetrier
	measurer   Measurer
	sink       logging.Sink
	store      SeedStore
	settings   exposure.Settings
	opts       Options
	logger     *slog.Logger
}

// #endregion

// #region constructor

// NewRunner wires a run. store may be nil, in which case the final exposure is only reported.
func NewRunner(capturer camera.Capturer, measurer Measurer, sink logging.Sink, store SeedStore, settings exposure.Settings, opts Options, logger *slog.Logger) *Runner {
	if sink == nil {
		sink = logging.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		controller: NewController(capturer, measurer, sink, settings, opts, logger),
		retrier:    NewFinalCaptureRetrier(capturer, settings.RetryCount, logger),
		measurer:   measurer,
		sink:       sink,
		store:      store,
		settings:   settings,
		opts:       opts,
		logger:     logger,
	}
}

// #endregion

// #region run

// Run converges from seed, produces the final artifact and persists the exposure.
// A run that ends without a valid artifact is reported as Degraded, not as an error.
func (r *Runner) Run(ctx context.Context, seed int64) (RunResult, error) {
	runID := uuid.NewString()
	log := r.logger.With("run_id", runID)

	conv, err := r.controller.Converge(ctx, runID, seed)
	if err != nil {
		return RunResult{RunID: runID}, err
	}

	result := RunResult{
		RunID:      runID,
		Decision:   conv.Decision,
		Iterations: len(conv.Attempts),
	}
	result.FinalExposure, _ = exposure.ResultExposure(conv.Decision)

	if conv.DryRun {
		result.DryRun = true
		log.Info("run: dry run complete, no final capture performed")
		return result, nil
	}

	log.Info("run: converged",
		"decision", conv.Decision.Kind(), "exposure_us", result.FinalExposure, "iterations", result.Iterations)

	if conv.Selected != nil {
		r.reuse(runID, conv.Selected, &result)
	} else {
		r.captureFinal(ctx, runID, &result)
	}

	if err := r.persist(runID, result); err != nil {
		return result, err
	}
	log.Info("run: complete",
		"exposure_us", result.FinalExposure, "artifact", result.Artifact, "degraded", result.Degraded)
	return result, nil
}

// #endregion

// #region reuse

// reuse moves (or copies, when intermediates are kept) the selected iteration image to
// its final name. If relocation fails the image stays where it is and is still the result.
func (r *Runner) reuse(runID string, sel *Attempt, result *RunResult) {
	ts := r.opts.now().Format(fileTimeLayout)
	mean := sel.Outcome.MeanBrightness
	target := r.finalPath(ts, result.FinalExposure, mean)

	artifact := sel.Outcome.Artifact
	if err := relocate(artifact, target, r.opts.KeepIntermediates); err != nil {
		r.logger.Warn("run: could not relocate reused image", "from", artifact, "to", target, "error", err)
	} else {
		artifact = target
	}

	result.Artifact = artifact
	result.Mean = mean
	result.Reused = true

	r.sink.Record(logging.AttemptRecord{
		RunID:              runID,
		Stage:              logging.StageFinalReused,
		Timestamp:          ts,
		Filename:           artifact,
		RequestedShutterUs: result.FinalExposure,
		Gains:              r.settings.Gains,
		ReturnCode:         sel.Result.ReturnCodeLabel(),
		Stderr:             sel.Result.Stderr,
		Metadata:           sel.Result.Metadata,
		Mean:               mean,
		Notes:              "Reused from " + sel.Stage,
	})
}

// #endregion

// #region final-capture

// captureFinal takes a fresh still at the decided exposure, with retries.
func (r *Runner) captureFinal(ctx context.Context, runID string, result *RunResult) {
	ts := r.opts.now().Format(fileTimeLayout)
	path := r.finalPath(ts, result.FinalExposure, nil)

	attempts := r.retrier.Capture(ctx, camera.Request{
		ExposureUs: result.FinalExposure,
		Gains:      r.settings.Gains,
		OutPath:    path,
	})
	result.FinalAttempts = len(attempts)

	for i, res := range attempts[:len(attempts)-1] {
		r.sink.Record(logging.AttemptRecord{
			RunID:              runID,
			Stage:              logging.StageFinal,
			Timestamp:          ts,
			Filename:           path,
			RequestedShutterUs: result.FinalExposure,
			Gains:              r.settings.Gains,
			ReturnCode:         res.ReturnCodeLabel(),
			Stderr:             res.Stderr,
			Metadata:           res.Metadata,
			Notes:              joinNotes(failureNote(res), fmt.Sprintf("attempt %d of %d", i+1, r.settings.RetryCount+1)),
		})
	}

	last := attempts[len(attempts)-1]
	outcome := outcomeOf(last, r.measurer)
	filename := path
	if outcome.Succeeded {
		filename = last.Artifact
		if outcome.MeanBrightness != nil {
			named := r.finalPath(ts, result.FinalExposure, outcome.MeanBrightness)
			if err := os.Rename(filename, named); err != nil {
				r.logger.Warn("run: could not add brightness to final name", "path", filename, "error", err)
			} else {
				filename = named
			}
		}
		result.Artifact = filename
		result.Mean = outcome.MeanBrightness
	} else {
		result.Degraded = true
		r.logger.Error("run: final capture failed on every attempt",
			"attempts", len(attempts), "return_code", last.ReturnCodeLabel())
	}

	r.sink.Record(logging.AttemptRecord{
		RunID:              runID,
		Stage:              logging.StageFinal,
		Timestamp:          ts,
		Filename:           filename,
		RequestedShutterUs: result.FinalExposure,
		Gains:              r.settings.Gains,
		ReturnCode:         last.ReturnCodeLabel(),
		Stderr:             last.Stderr,
		Metadata:           last.Metadata,
		Mean:               outcome.MeanBrightness,
		Notes:              failureNote(last),
	})
}

// #endregion

// #region abort

// Abort records a run that was refused before any capture.
func (r *Runner) Abort(reason string) string {
	runID := uuid.NewString()
	r.sink.Record(logging.AttemptRecord{
		RunID:     runID,
		Stage:     logging.StageAbort,
		Timestamp: r.opts.now().Format(fileTimeLayout),
		Notes:     reason,
	})
	r.logger.Warn("run: aborted", "run_id", runID, "reason", reason)
	return runID
}

// #endregion

// #region persist

// persist writes the final exposure back as the next seed. Degraded runs are persisted
// too so the next run starts where this one ended.
func (r *Runner) persist(runID string, result RunResult) error {
	if r.store == nil {
		return nil
	}
	parentID := ""
	cur, err := r.store.GetCurrent()
	switch {
	case err == nil:
		parentID = cur.VersionID
	case errors.Is(err, state.ErrNoActiveExposure):
	default:
		return fmt.Errorf("persist seed: %w", err)
	}

	rec := state.ExposureRecord{
		ParentID:   parentID,
		RunID:      runID,
		ExposureUs: result.FinalExposure,
		Decision:   result.Decision.Kind(),
		Artifact:   result.Artifact,
		Mean:       result.Mean,
		Degraded:   result.Degraded,
	}
	if err := r.store.CommitExposure(rec); err != nil {
		return fmt.Errorf("persist seed: %w", err)
	}
	return nil
}

// #endregion

// #region helpers

// finalPath names the run result: rpicam_<ts>_ex<us>us[_mean<N>].jpg.
func (r *Runner) finalPath(ts string, exposureUs int64, mean *float64) string {
	name := fmt.Sprintf("rpicam_%s_ex%dus", ts, exposureUs)
	if mean != nil {
		name += fmt.Sprintf("_mean%d", int64(math.RoundToEven(*mean)))
	}
	return filepath.Join(r.opts.OutDir, name+".jpg")
}

// relocate moves src to dst, or copies it when keep is set.
func relocate(src, dst string, keep bool) error {
	if src == dst {
		return nil
	}
	if !keep {
		return os.Rename(src, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// #endregion
