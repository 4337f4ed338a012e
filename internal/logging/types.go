package logging

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mothbox/winter-capture/internal/exposure"
)

// #region stages
const (
	StageFinal       = "final"
	StageFinalReused = "final(reused)"
	StageAbort       = "abort"
	StageSweep       = "sweep"
)

// IterStage labels convergence attempt i (1-based).
func IterStage(i int) string {
	return "iter" + strconv.Itoa(i)
}

// #endregion stages

// #region attempt-record
// AttemptRecord is one row of the capture manifest: what was asked of the camera,
// what it reported and what the image measured.
type AttemptRecord struct {
	RunID              string
	Stage              string // "iter<i>" | "final" | "final(reused)" | "abort" | "sweep"
	Timestamp          string // capture timestamp as used in file names
	Filename           string
	RequestedShutterUs int64
	Gains              exposure.GainSettings
	ReturnCode         string
	Stderr             string
	Metadata           *exposure.Metadata
	Mean               *float64
	Notes              string
	CreatedAt          time.Time
}

// #endregion attempt-record

// #region columns
// metadataJSON renders the full metadata document, empty when absent.
func (r AttemptRecord) metadataJSON() string {
	if r.Metadata == nil || r.Metadata.Raw == nil {
		return ""
	}
	b, err := json.Marshal(r.Metadata.Raw)
	if err != nil {
		return ""
	}
	return string(b)
}

func (r AttemptRecord) awbRequested() string {
	if r.Gains.AwbGains == nil {
		return ""
	}
	return r.Gains.AwbGains.String()
}

func (r AttemptRecord) awbReported() string {
	if r.Metadata == nil || len(r.Metadata.AwbGains) == 0 {
		return ""
	}
	parts := make([]string, len(r.Metadata.AwbGains))
	for i, v := range r.Metadata.AwbGains {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ",")
}

func (r AttemptRecord) reported(pick func(*exposure.Metadata) *float64) *float64 {
	if r.Metadata == nil {
		return nil
	}
	return pick(r.Metadata)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// #endregion columns
