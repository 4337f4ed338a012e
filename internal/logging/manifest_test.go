package logging

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/state"
)

func testStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func sampleRecord() AttemptRecord {
	return AttemptRecord{
		RunID:              "run-1",
		Stage:              IterStage(1),
		Timestamp:          "2026-01-12_21-04-33",
		Filename:           "/out/rpicam_2026-01-12_21-04-33_iter1.jpg",
		RequestedShutterUs: 1000,
		Gains: exposure.GainSettings{
			AnalogGain: ptr(1.5),
			AwbGains:   &exposure.AwbGains{Red: 1.8, Blue: 1.5},
		},
		ReturnCode: "0",
		Metadata: &exposure.Metadata{
			ExposureTime: ptr(998),
			AnalogueGain: ptr(1.49),
			AwbGains:     []float64{1.8, 1.5},
			Raw:          map[string]any{"ExposureTime": 998.0},
		},
		Mean: ptr(63.25),
	}
}

func TestLogAttempt(t *testing.T) {
	s := testStore(t)

	if err := LogAttempt(s.DB(), sampleRecord()); err != nil {
		t.Fatalf("LogAttempt: %v", err)
	}

	rows, err := s.ListManifest("run-1")
	if err != nil {
		t.Fatalf("ListManifest: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Stage != "iter1" || r.RequestedShutterUs != 1000 || r.ReturnCode != "0" {
		t.Fatalf("unexpected row %+v", r)
	}
	if r.Mean == nil || *r.Mean != 63.25 {
		t.Fatalf("mean lost: %v", r.Mean)
	}
	if r.MetadataJSON != `{"ExposureTime":998}` {
		t.Fatalf("unexpected metadata json %q", r.MetadataJSON)
	}
}

func TestLogAttemptNullableFields(t *testing.T) {
	s := testStore(t)

	rec := AttemptRecord{RunID: "run-2", Stage: StageFinal, Timestamp: "ts", ReturnCode: "-1", Stderr: "rpicam-still not found"}
	if err := LogAttempt(s.DB(), rec); err != nil {
		t.Fatalf("LogAttempt: %v", err)
	}

	rows, _ := s.ListManifest("run-2")
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Mean != nil || rows[0].Filename != "" || rows[0].MetadataJSON != "" {
		t.Fatalf("absent fields should read back empty: %+v", rows[0])
	}
}

func TestLogAttemptClosedDB(t *testing.T) {
	s := testStore(t)
	s.Close()
	if err := LogAttempt(s.DB(), sampleRecord()); err == nil {
		t.Fatal("expected error on closed database")
	}
}

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.csv")
	sink := NewCSVSink(path, nil)

	sink.Record(sampleRecord())
	final := sampleRecord()
	final.Stage = StageFinalReused
	final.Notes = "Reused from iter1"
	sink.Record(final)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(CSVColumns, ",") {
		t.Fatalf("unexpected header %v", records[0])
	}
	row := records[1]
	if row[1] != "iter1" || row[3] != "1000" || row[4] != "1.5" || row[5] != "" || row[6] != "1.8,1.5" {
		t.Fatalf("unexpected row %v", row)
	}
	if row[10] != "998" || row[13] != "1.8,1.5" || row[14] != "63.25" {
		t.Fatalf("unexpected metadata columns %v", row)
	}
	if records[2][1] != "final(reused)" || records[2][15] != "Reused from iter1" {
		t.Fatalf("unexpected second row %v", records[2])
	}
}

func TestCSVSinkUnwritablePathDoesNotPanic(t *testing.T) {
	sink := NewCSVSink(filepath.Join(t.TempDir(), "missing", "dir", "manifest.csv"), nil)
	sink.Record(sampleRecord())
}

type recorder struct{ got []AttemptRecord }

func (r *recorder) Record(rec AttemptRecord) { r.got = append(r.got, rec) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, Discard{}, b}.Record(sampleRecord())
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected each sink to see one record, got %d and %d", len(a.got), len(b.got))
	}
}

func TestSQLSinkSwallowsErrors(t *testing.T) {
	s := testStore(t)
	sink := NewSQLSink(s.DB(), nil)
	sink.Record(sampleRecord())
	rows, _ := s.ListManifest("run-1")
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	s.Close()
	sink.Record(sampleRecord())
}
