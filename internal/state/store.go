package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SeedSettingKey is the settings row mirrored from the active exposure version.
const SeedSettingKey = "ExposureTime"

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS camera_settings (
	setting    TEXT PRIMARY KEY,
	value      TEXT,
	details    TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exposure_versions (
	version_id      TEXT PRIMARY KEY,
	parent_id       TEXT,
	run_id          TEXT,
	exposure_us     INTEGER NOT NULL,
	decision        TEXT NOT NULL,
	artifact        TEXT,
	mean_brightness REAL,
	degraded        INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES exposure_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_exposure (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version_id TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES exposure_versions(version_id)
);

CREATE TABLE IF NOT EXISTS capture_manifest (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id               TEXT NOT NULL,
	stage                TEXT NOT NULL,
	timestamp            TEXT NOT NULL,
	filename             TEXT,
	requested_shutter_us INTEGER,
	requested_analoggain REAL,
	requested_gain       REAL,
	requested_awbgains   TEXT,
	return_code          TEXT,
	stderr               TEXT,
	metadata_json        TEXT,
	metadata_exposure_us REAL,
	metadata_analoggain  REAL,
	metadata_digitalgain REAL,
	metadata_awbgains    TEXT,
	mean_brightness      REAL,
	notes                TEXT,
	created_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_capture_manifest_run ON capture_manifest(run_id);
`

// #endregion schema

// #region store-struct
// Store keeps camera settings, the seed exposure history and the capture manifest in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	// foreign_keys is per connection, so it goes in the DSN to reach every pooled one
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region settings
// Settings returns every stored setting keyed by name.
func (s *Store) Settings() (map[string]Setting, error) {
	rows, err := s.db.Query(`SELECT setting, value, details FROM camera_settings ORDER BY setting`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Setting)
	for rows.Next() {
		var st Setting
		var value, details sql.NullString
		if err := rows.Scan(&st.Key, &value, &details); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		st.Value = value.String
		st.Details = details.String
		out[st.Key] = st
	}
	return out, rows.Err()
}

// SettingValues flattens Settings to key -> value.
func (s *Store) SettingValues() (map[string]string, error) {
	all, err := s.Settings()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(all))
	for k, st := range all {
		values[k] = st.Value
	}
	return values, nil
}

// PutSettings upserts rows in one transaction. An empty Details keeps the stored one.
func (s *Store) PutSettings(settings []Setting) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	for _, st := range settings {
		if err := upsertSetting(tx, st, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetSetting upserts a single value, keeping its details.
func (s *Store) SetSetting(key, value string) error {
	return s.PutSettings([]Setting{{Key: key, Value: value}})
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertSetting(tx execer, st Setting, now string) error {
	_, err := tx.Exec(
		`INSERT INTO camera_settings (setting, value, details, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(setting) DO UPDATE SET
			value = excluded.value,
			details = CASE WHEN excluded.details IS NULL OR excluded.details = '' THEN camera_settings.details ELSE excluded.details END,
			updated_at = excluded.updated_at`,
		st.Key, st.Value, nullIfEmpty(st.Details), now,
	)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", st.Key, err)
	}
	return nil
}

// #endregion settings

// #region create-initial
// CreateInitialExposure records a seed that no run produced (first boot or an import)
// and makes it active.
func (s *Store) CreateInitialExposure(exposureUs int64, decision string) (ExposureRecord, error) {
	rec := ExposureRecord{
		VersionID:  uuid.New().String(),
		ExposureUs: exposureUs,
		Decision:   decision,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CommitExposure(rec); err != nil {
		return ExposureRecord{}, err
	}
	return rec, nil
}

// #endregion create-initial

// #region get-current
// GetCurrent reads the active exposure version.
func (s *Store) GetCurrent() (ExposureRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_exposure WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ExposureRecord{}, ErrNoActiveExposure
	}
	if err != nil {
		return ExposureRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version
const versionColumns = `version_id, parent_id, run_id, exposure_us, decision, artifact, mean_brightness, degraded, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (ExposureRecord, error) {
	var rec ExposureRecord
	var parentID, runID, artifact sql.NullString
	var mean sql.NullFloat64
	var degraded int
	var createdStr string

	if err := row.Scan(&rec.VersionID, &parentID, &runID, &rec.ExposureUs, &rec.Decision,
		&artifact, &mean, &degraded, &createdStr); err != nil {
		return ExposureRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.RunID = runID.String
	rec.Artifact = artifact.String
	if mean.Valid {
		m := mean.Float64
		rec.Mean = &m
	}
	rec.Degraded = degraded != 0
	rec.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return rec, nil
}

// GetVersion retrieves a specific exposure version by ID.
func (s *Store) GetVersion(id string) (ExposureRecord, error) {
	rec, err := scanVersion(s.db.QueryRow(
		`SELECT `+versionColumns+` FROM exposure_versions WHERE version_id = ?`, id,
	))
	if err != nil {
		return ExposureRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-version

// #region commit-exposure
// CommitExposure inserts a new version, moves the active pointer to it and mirrors the
// exposure into the ExposureTime setting, all atomically.
func (s *Store) CommitExposure(rec ExposureRecord) error {
	if rec.VersionID == "" {
		rec.VersionID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var mean any
	if rec.Mean != nil {
		mean = *rec.Mean
	}
	degraded := 0
	if rec.Degraded {
		degraded = 1
	}

	_, err = tx.Exec(
		`INSERT INTO exposure_versions (`+versionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(rec.ParentID), nullIfEmpty(rec.RunID), rec.ExposureUs, rec.Decision,
		nullIfEmpty(rec.Artifact), mean, degraded, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_exposure (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	if err := upsertSetting(tx, Setting{Key: SeedSettingKey, Value: strconv.FormatInt(rec.ExposureUs, 10)}, now); err != nil {
		return err
	}

	return tx.Commit()
}

// #endregion commit-exposure

// #region rollback
// Rollback sets the active pointer to a previous version and restores its seed setting.
func (s *Store) Rollback(targetVersionID string) error {
	target, err := s.GetVersion(targetVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("version %s not found", targetVersionID)
	}
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE active_exposure SET version_id = ? WHERE id = 1`, targetVersionID); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	if err := upsertSetting(tx, Setting{Key: SeedSettingKey, Value: strconv.FormatInt(target.ExposureUs, 10)}, now); err != nil {
		return err
	}
	return tx.Commit()
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent exposure versions, newest first.
func (s *Store) ListVersions(limit int) ([]ExposureRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+versionColumns+` FROM exposure_versions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []ExposureRecord
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-versions

// #region list-manifest
// ListManifest returns the capture attempts of a run in insertion order.
func (s *Store) ListManifest(runID string) ([]ManifestRow, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, stage, timestamp, filename, requested_shutter_us, return_code, stderr,
		        metadata_json, mean_brightness, notes
		 FROM capture_manifest WHERE run_id = ? ORDER BY id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list manifest: %w", err)
	}
	defer rows.Close()

	var out []ManifestRow
	for rows.Next() {
		var r ManifestRow
		var filename, returnCode, stderr, metadata, notes sql.NullString
		var shutter sql.NullInt64
		var mean sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &r.Timestamp, &filename, &shutter,
			&returnCode, &stderr, &metadata, &mean, &notes); err != nil {
			return nil, fmt.Errorf("scan manifest row: %w", err)
		}
		r.Filename = filename.String
		r.RequestedShutterUs = shutter.Int64
		r.ReturnCode = returnCode.String
		r.Stderr = stderr.String
		r.MetadataJSON = metadata.String
		r.Notes = notes.String
		if mean.Valid {
			m := mean.Float64
			r.Mean = &m
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion list-manifest

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
