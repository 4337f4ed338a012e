package logging

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// #region sink
// Sink accepts manifest records. Record never fails from the caller's point of view;
// implementations log their own errors.
type Sink interface {
	Record(rec AttemptRecord)
}

// Discard drops every record.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(AttemptRecord) {}

// Multi fans a record out to several sinks.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(rec AttemptRecord) {
	for _, s := range m {
		s.Record(rec)
	}
}

// #endregion sink

// #region sql-sink
// SQLSink stores records in the capture_manifest table.
type SQLSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLSink writes to db, which must carry the state store schema.
func NewSQLSink(db *sql.DB, logger *slog.Logger) *SQLSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLSink{db: db, logger: logger}
}

// Record implements Sink.
func (s *SQLSink) Record(rec AttemptRecord) {
	if err := LogAttempt(s.db, rec); err != nil {
		s.logger.Warn("manifest: sql record dropped", "stage", rec.Stage, "error", err)
	}
}

// #endregion sql-sink

// #region csv-sink
// CSVColumns is the header of the field manifest file.
var CSVColumns = []string{
	"timestamp", "stage", "filename", "requested_shutter_us", "requested_analoggain", "requested_gain",
	"requested_awbgains", "rpicam_returncode", "rpicam_stderr", "metadata_json", "metadata_exposure_us",
	"metadata_analoggain", "metadata_digitalgain", "metadata_awbgains", "mean_brightness", "notes",
}

// CSVSink appends records to a CSV manifest, writing the header when it creates the file.
type CSVSink struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewCSVSink appends to path.
func NewCSVSink(path string, logger *slog.Logger) *CSVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSink{path: path, logger: logger}
}

// Record implements Sink.
func (s *CSVSink) Record(rec AttemptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(rec); err != nil {
		s.logger.Warn("manifest: csv record dropped", "path", s.path, "stage", rec.Stage, "error", err)
	}
}

func (s *CSVSink) append(rec AttemptRecord) error {
	_, statErr := os.Stat(s.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(CSVColumns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(csvRow(rec)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func csvRow(rec AttemptRecord) []string {
	shutter := ""
	if rec.RequestedShutterUs != 0 {
		shutter = strconv.FormatInt(rec.RequestedShutterUs, 10)
	}
	var mdExposure, mdAnalog, mdDigital *float64
	if rec.Metadata != nil {
		mdExposure, mdAnalog, mdDigital = rec.Metadata.ExposureTime, rec.Metadata.AnalogueGain, rec.Metadata.DigitalGain
	}
	return []string{
		rec.Timestamp,
		rec.Stage,
		rec.Filename,
		shutter,
		formatOptional(rec.Gains.AnalogGain),
		formatOptional(rec.Gains.DigitalGain),
		rec.awbRequested(),
		rec.ReturnCode,
		rec.Stderr,
		rec.metadataJSON(),
		formatOptional(mdExposure),
		formatOptional(mdAnalog),
		formatOptional(mdDigital),
		rec.awbReported(),
		formatOptional(rec.Mean),
		rec.Notes,
	}
}

// #endregion csv-sink
