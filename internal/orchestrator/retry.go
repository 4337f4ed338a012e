package orchestrator

// #region imports
import (
	"context"
	"log/slog"

	"github.com/mothbox/winter-capture/internal/camera"
)

// #endregion

// #region retrier

// FinalCaptureRetrier takes the final still with a bounded number of retries.
type FinalCaptureRetrier struct {
	capturer   camera.Capturer
	retryCount int
	logger     *slog.Logger
}

// NewFinalCaptureRetrier allows retryCount retries, so at most retryCount+1 captures.
func NewFinalCaptureRetrier(capturer camera.Capturer, retryCount int, logger *slog.Logger) *FinalCaptureRetrier {
	if retryCount < 0 {
		retryCount = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalCaptureRetrier{capturer: capturer, retryCount: retryCount, logger: logger}
}

// #endregion

// #region capture

// Capture calls the camera until one attempt succeeds or the attempts run out, and
// returns every result in order. The last element is the reported outcome, failed or not.
// Cancellation of ctx stops further retries.
func (r *FinalCaptureRetrier) Capture(ctx context.Context, req camera.Request) []camera.Result {
	maxAttempts := r.retryCount + 1
	results := make([]camera.Result, 0, maxAttempts)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res := r.capturer.Capture(ctx, req)
		results = append(results, res)
		if res.Succeeded() {
			r.logger.Info("final: capture succeeded", "attempt", attempt, "exposure_us", req.ExposureUs)
			return results
		}
		r.logger.Warn("final: capture failed",
			"attempt", attempt, "of", maxAttempts,
			"return_code", res.ReturnCodeLabel(), "stderr", res.Stderr)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// #endregion
