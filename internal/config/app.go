package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backends understood by App.Backend.
const (
	BackendRpicam = "rpicam"
	BackendRemote = "remote"
)

// #region app
// App holds the process-level configuration of the capture tool.
type App struct {
	DBPath            string `yaml:"db_path"`
	OutDir            string `yaml:"out_dir"`
	CameraCSV         string `yaml:"camera_csv"`
	CameraIndex       int    `yaml:"camera_index"`
	Backend           string `yaml:"backend"`
	RemoteAddr        string `yaml:"remote_addr"`
	RpicamBinary      string `yaml:"rpicam_binary"`
	KeepIntermediates bool   `yaml:"keep_intermediates"`
	ManifestCSV       string `yaml:"manifest_csv"`
	OffPinPath        string `yaml:"off_pin_path"`
	DebugPinPath      string `yaml:"debug_pin_path"`
	LogLevel          string `yaml:"log_level"`
}

// DefaultApp matches the layout of a field unit.
func DefaultApp() App {
	return App{
		DBPath:       "mothbox.db",
		OutDir:       "/home/pi/Desktop/Mothbox/photos",
		CameraCSV:    "winter_camera.csv",
		Backend:      BackendRpicam,
		RemoteAddr:   "localhost:50061",
		RpicamBinary: "rpicam-still",
		ManifestCSV:  "rpicam_take_manifest.csv",
		OffPinPath:   "/sys/class/gpio/gpio16/value",
		DebugPinPath: "/sys/class/gpio/gpio12/value",
		LogLevel:     "info",
	}
}

// LoadApp reads path over the defaults, then applies environment overrides.
// An empty path or a missing file leaves the defaults in place.
func LoadApp(path string) (App, error) {
	cfg := DefaultApp()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return App{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return App{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.DBPath = envOr("MOTHBOX_DB", cfg.DBPath)
	cfg.OutDir = envOr("MOTHBOX_OUT", cfg.OutDir)
	cfg.RemoteAddr = envOr("MOTHBOX_REMOTE_ADDR", cfg.RemoteAddr)

	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Validate checks fields that have a closed set of values.
func (a App) Validate() error {
	switch a.Backend {
	case BackendRpicam, BackendRemote:
	default:
		return fmt.Errorf("config: unknown backend %q", a.Backend)
	}
	if a.Backend == BackendRemote && a.RemoteAddr == "" {
		return fmt.Errorf("config: remote backend needs remote_addr")
	}
	switch a.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", a.LogLevel)
	}
	return nil
}

// #endregion app

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
