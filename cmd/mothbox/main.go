package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mothbox/winter-capture/internal/brightness"
	"github.com/mothbox/winter-capture/internal/camera"
	"github.com/mothbox/winter-capture/internal/config"
	"github.com/mothbox/winter-capture/internal/logging"
	"github.com/mothbox/winter-capture/internal/state"
)

var (
	configFile string
	debugFlag  bool

	app      config.App
	logLevel = new(slog.LevelVar)
	logger   *slog.Logger
)

// #region main

func main() {
	rootCmd := &cobra.Command{
		Use:   "mothbox",
		Short: "Adaptive exposure capture for the Mothbox night camera",
		Long: `mothbox takes one correctly exposed still per invocation. It converges the
shutter time toward a target brightness with a few cheap captures, keeps or
retakes the final image and stores the exposure as the seed for the next run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadApp(configFile)
			if err != nil {
				return err
			}
			app = cfg
			setupLogging(app.LogLevel, debugFlag)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to mothbox.yaml")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(takeCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region helpers

func setupLogging(level string, debug bool) {
	switch level {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

func openStore() (*state.Store, error) {
	store, err := state.NewStore(app.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", app.DBPath, err)
	}
	return store, nil
}

// manifestSink records to the database and to the CSV manifest next to the photos.
func manifestSink(store *state.Store, outDir string) logging.Sink {
	csvPath := app.ManifestCSV
	if !filepath.IsAbs(csvPath) {
		csvPath = filepath.Join(outDir, csvPath)
	}
	return logging.Multi{
		logging.NewSQLSink(store.DB(), logger),
		logging.NewCSVSink(csvPath, logger),
	}
}

// loadCamera syncs the settings CSV into the store and parses the result. An empty
// store is seeded with defaults first so every key shows up on export.
func loadCamera(store *state.Store, csvPath string) (config.Camera, error) {
	current, err := store.Settings()
	if err != nil {
		return config.Camera{}, err
	}
	if len(current) == 0 {
		if err := store.PutSettings(config.Defaults()); err != nil {
			return config.Camera{}, err
		}
	}
	if csvPath != "" {
		rows, err := config.ReadCSV(csvPath)
		if err != nil {
			return config.Camera{}, err
		}
		if len(rows) > 0 {
			logger.Debug("settings: imported csv", "path", csvPath, "rows", len(rows))
			if err := store.PutSettings(rows); err != nil {
				return config.Camera{}, err
			}
		}
	}
	values, err := store.SettingValues()
	if err != nil {
		return config.Camera{}, err
	}
	return config.Parse(values)
}

// exportSettings writes the whole store to path, known keys first.
func exportSettings(store *state.Store, path string) (int, error) {
	all, err := store.Settings()
	if err != nil {
		return 0, err
	}
	if err := config.WriteCSV(path, config.Ordered(all)); err != nil {
		return 0, err
	}
	return len(all), nil
}

// rollbackSeed activates an earlier exposure version and mirrors it into the settings
// csv, which every take reads over the store.
func rollbackSeed(store *state.Store, versionID, csvPath string) (state.ExposureRecord, error) {
	if err := store.Rollback(versionID); err != nil {
		return state.ExposureRecord{}, err
	}
	if _, err := exportSettings(store, csvPath); err != nil {
		return state.ExposureRecord{}, fmt.Errorf("rollback: write %s: %w", csvPath, err)
	}
	return store.GetCurrent()
}

// settingsCSV prefers a copy on removable media over the configured path.
func settingsCSV(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ext := config.FindExternal(filepath.Base(app.CameraCSV), config.DefaultSearchRoots); ext != "" {
		return ext
	}
	return app.CameraCSV
}

// capturer builds the configured backend. The returned close func is never nil.
func capturer(cam config.Camera, dryRun bool) (camera.Capturer, func(), error) {
	switch app.Backend {
	case config.BackendRemote:
		if dryRun {
			return nil, nil, fmt.Errorf("dry run is only available with the %s backend", config.BackendRpicam)
		}
		remote, err := camera.DialRemote(app.RemoteAddr)
		if err != nil {
			return nil, nil, err
		}
		return remote, func() { remote.Close() }, nil
	default:
		inv := camera.NewInvoker(logger)
		if app.RpicamBinary != "" {
			inv.Binary = app.RpicamBinary
		}
		inv.CameraIndex = app.CameraIndex
		inv.Width = cam.Width
		inv.Height = cam.Height
		inv.DryRun = dryRun
		return inv, func() {}, nil
	}
}

func newMeasurer() *brightness.Measurer {
	return brightness.NewMeasurer(logger)
}

// #endregion helpers
