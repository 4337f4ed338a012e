package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/state"
)

func TestParseDefaults(t *testing.T) {
	cam, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cam.SeedUs != DefaultSeedUs || cam.Width != DefaultWidth || cam.Height != DefaultHeight {
		t.Fatalf("unexpected camera defaults %+v", cam)
	}
	if cam.Settings != exposure.DefaultSettings() {
		t.Fatalf("unexpected settings %+v", cam.Settings)
	}
}

func TestParseValues(t *testing.T) {
	cam, err := Parse(map[string]string{
		KeyExposureTime:   "2750.0",
		KeyAnalogueGain:   "1.5",
		KeyGain:           "",
		KeyAwbGains:       " 1.8 , 1.5 ",
		KeyTargetMean:     "120",
		KeyLoopIterations: "7",
		KeyMaxExposure:    "1000000",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cam.SeedUs != 2750 {
		t.Fatalf("expected seed 2750, got %d", cam.SeedUs)
	}
	s := cam.Settings
	if s.TargetMean != 120 || s.LoopIterations != 7 || s.MaxExposure != 1000000 {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.Gains.AnalogGain == nil || *s.Gains.AnalogGain != 1.5 {
		t.Fatalf("analog gain lost: %v", s.Gains.AnalogGain)
	}
	if s.Gains.DigitalGain != nil {
		t.Fatal("empty gain should stay unset")
	}
	if s.Gains.AwbGains == nil || s.Gains.AwbGains.String() != "1.8,1.5" {
		t.Fatalf("unexpected awb gains %v", s.Gains.AwbGains)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{"malformed number", map[string]string{KeyTargetMean: "bright"}},
		{"fractional integer", map[string]string{KeyLoopIterations: "2.5"}},
		{"malformed gain", map[string]string{KeyAnalogueGain: "x"}},
		{"min above max", map[string]string{KeyMinExposure: "5000", KeyMaxExposure: "100"}},
		{"zero iterations", map[string]string{KeyLoopIterations: "0"}},
		{"zero width", map[string]string{KeyWidth: "0"}},
		{"NaN target", map[string]string{KeyTargetMean: "NaN"}},
		{"infinite change factor", map[string]string{KeyMaxChangeFactor: "Inf"}},
		{"infinite exposure", map[string]string{KeyMaxExposure: "+Inf"}},
		{"NaN awb", map[string]string{KeyAwbGains: "NaN,1.2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.values)
			if !errors.Is(err, exposure.ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestParseAwbGains(t *testing.T) {
	for _, raw := range []string{"", "1.8", "0,1.5", "1.8,-1", "a,b", "1,2,3"} {
		if g := ParseAwbGains(raw); g != nil {
			t.Errorf("ParseAwbGains(%q) = %v, want nil", raw, g)
		}
	}
	if g := ParseAwbGains("2,1.25"); g == nil || g.Red != 2 || g.Blue != 1.25 {
		t.Fatalf("unexpected %v", g)
	}
}

func TestDefaultsParse(t *testing.T) {
	values := map[string]string{}
	for _, s := range Defaults() {
		values[s.Key] = s.Value
	}
	cam, err := Parse(values)
	if err != nil {
		t.Fatalf("Parse(Defaults()): %v", err)
	}
	if cam.Settings != exposure.DefaultSettings() || cam.SeedUs != DefaultSeedUs {
		t.Fatalf("defaults do not round-trip: %+v", cam)
	}
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "winter_camera.csv")
	content := "\ufeffSETTING,VALUE,DETAILS\nExposureTime,1000,seed in us\nAwbGains,\"1.8,1.5\",\n,ignored,\nWidth,4624\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 settings, got %d: %+v", len(got), got)
	}
	if got[0] != (state.Setting{Key: "ExposureTime", Value: "1000", Details: "seed in us"}) {
		t.Fatalf("unexpected first row %+v", got[0])
	}
	if got[1].Value != "1.8,1.5" || got[2].Value != "4624" || got[2].Details != "" {
		t.Fatalf("unexpected rows %+v", got)
	}
}

func TestReadCSVMissingFile(t *testing.T) {
	got, err := ReadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil || got != nil {
		t.Fatalf("expected no settings and no error, got %v, %v", got, err)
	}
}

func TestReadCSVWithoutSettingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	os.WriteFile(path, []byte("KEY,VALUE\nA,1\n"), 0o644)
	if _, err := ReadCSV(path); err == nil {
		t.Fatal("expected error for missing SETTING column")
	}
}

func TestWriteCSVPreservesDetails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "winter_camera.csv")
	os.WriteFile(path, []byte("SETTING,VALUE,DETAILS\nExposureTime,1000,seed in us\n"), 0o644)

	err := WriteCSV(path, []state.Setting{
		{Key: "ExposureTime", Value: "2750"},
		{Key: "TargetMean", Value: "100", Details: "desired mean"},
	})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	data, _ := os.ReadFile(path)
	want := "SETTING,VALUE,DETAILS\nExposureTime,2750,seed in us\nTargetMean,100,desired mean\n"
	if string(data) != want {
		t.Fatalf("unexpected file:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestFindExternal(t *testing.T) {
	media := t.TempDir()
	mnt := t.TempDir()
	os.MkdirAll(filepath.Join(media, "empty"), 0o755)
	os.MkdirAll(filepath.Join(mnt, "usb0"), 0o755)
	want := filepath.Join(mnt, "usb0", "winter_camera.csv")
	os.WriteFile(want, []byte("SETTING,VALUE,DETAILS\n"), 0o644)

	roots := []string{filepath.Join(media, "absent"), media, mnt}
	if got := FindExternal("winter_camera.csv", roots); got != want {
		t.Fatalf("FindExternal = %q, want %q", got, want)
	}
	if got := FindExternal("other.csv", roots); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}

func TestLoadAppDefaultsAndEnv(t *testing.T) {
	t.Setenv("MOTHBOX_DB", "/data/mothbox.db")
	t.Setenv("MOTHBOX_OUT", "")
	t.Setenv("MOTHBOX_REMOTE_ADDR", "")

	cfg, err := LoadApp(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadApp: %v", err)
	}
	if cfg.DBPath != "/data/mothbox.db" {
		t.Fatalf("env override not applied: %q", cfg.DBPath)
	}
	if cfg.OutDir != DefaultApp().OutDir || cfg.Backend != BackendRpicam {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadAppFile(t *testing.T) {
	t.Setenv("MOTHBOX_DB", "")
	t.Setenv("MOTHBOX_OUT", "")
	t.Setenv("MOTHBOX_REMOTE_ADDR", "")

	path := filepath.Join(t.TempDir(), "mothbox.yaml")
	yml := strings.Join([]string{
		"db_path: /var/lib/mothbox.db",
		"backend: remote",
		"remote_addr: camera.local:50061",
		"keep_intermediates: true",
		"camera_index: 1",
		"log_level: debug",
	}, "\n")
	os.WriteFile(path, []byte(yml), 0o644)

	cfg, err := LoadApp(path)
	if err != nil {
		t.Fatalf("LoadApp: %v", err)
	}
	if cfg.DBPath != "/var/lib/mothbox.db" || cfg.Backend != BackendRemote || cfg.RemoteAddr != "camera.local:50061" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.KeepIntermediates || cfg.CameraIndex != 1 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RpicamBinary != "rpicam-still" {
		t.Fatalf("unset keys should keep defaults, got %q", cfg.RpicamBinary)
	}
}

func TestLoadAppRejects(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"backend.yaml": "backend: usb",
		"level.yaml":   "log_level: loud",
		"syntax.yaml":  "backend: [",
	} {
		path := filepath.Join(dir, name)
		os.WriteFile(path, []byte(body), 0o644)
		if _, err := LoadApp(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestOrdered(t *testing.T) {
	got := Ordered(map[string]state.Setting{
		"Zeta":          {Key: "Zeta", Value: "1"},
		KeyTargetMean:   {Key: KeyTargetMean, Value: "100"},
		"Alpha":         {Key: "Alpha", Value: "2"},
		KeyExposureTime: {Key: KeyExposureTime, Value: "1000"},
	})
	var keys []string
	for _, s := range got {
		keys = append(keys, s.Key)
	}
	if strings.Join(keys, ",") != "ExposureTime,TargetMean,Alpha,Zeta" {
		t.Fatalf("unexpected order %v", keys)
	}
}
