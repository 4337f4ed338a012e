package state

import (
	"errors"
	"time"
)

// ErrNoActiveExposure is returned when no run has recorded a seed yet.
var ErrNoActiveExposure = errors.New("no active exposure")

// #region exposure-record
// ExposureRecord is one version of the persisted seed exposure. Each completed run
// commits a new record whose parent is the seed it started from.
type ExposureRecord struct {
	VersionID  string
	ParentID   string
	RunID      string
	ExposureUs int64
	Decision   string // terminal decision kind, "initial" or "import" for seeds not produced by a run
	Artifact   string
	Mean       *float64
	Degraded   bool
	CreatedAt  time.Time
}

// #endregion exposure-record

// #region setting
// Setting is one row of the camera settings key-value store.
type Setting struct {
	Key     string
	Value   string
	Details string
}

// #endregion setting

// #region manifest-row
// ManifestRow is a stored capture attempt as read back for inspection.
type ManifestRow struct {
	ID                 int64
	RunID              string
	Stage              string
	Timestamp          string
	Filename           string
	RequestedShutterUs int64
	ReturnCode         string
	Stderr             string
	MetadataJSON       string
	Mean               *float64
	Notes              string
}

// #endregion manifest-row
