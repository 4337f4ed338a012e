package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mothbox/winter-capture/internal/exposure"
)

// #region log-attempt
// LogAttempt writes one capture attempt to the capture_manifest table.
func LogAttempt(db *sql.DB, rec AttemptRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO capture_manifest (run_id, stage, timestamp, filename, requested_shutter_us,
			requested_analoggain, requested_gain, requested_awbgains, return_code, stderr,
			metadata_json, metadata_exposure_us, metadata_analoggain, metadata_digitalgain,
			metadata_awbgains, mean_brightness, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Stage,
		rec.Timestamp,
		nullIfEmpty(rec.Filename),
		nullIfZero(rec.RequestedShutterUs),
		nullIfNil(rec.Gains.AnalogGain),
		nullIfNil(rec.Gains.DigitalGain),
		nullIfEmpty(rec.awbRequested()),
		nullIfEmpty(rec.ReturnCode),
		nullIfEmpty(rec.Stderr),
		nullIfEmpty(rec.metadataJSON()),
		nullIfNil(rec.reported(func(m *exposure.Metadata) *float64 { return m.ExposureTime })),
		nullIfNil(rec.reported(func(m *exposure.Metadata) *float64 { return m.AnalogueGain })),
		nullIfNil(rec.reported(func(m *exposure.Metadata) *float64 { return m.DigitalGain })),
		nullIfEmpty(rec.awbReported()),
		nullIfNil(rec.Mean),
		nullIfEmpty(rec.Notes),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}

// #endregion log-attempt

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfZero(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// #endregion helpers
