package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/interlock"
	"github.com/mothbox/winter-capture/internal/orchestrator"
)

func takeCmd() *cobra.Command {
	var (
		dryRun    bool
		keep      bool
		outDir    string
		cameraCSV string
		backend   string
		width     int
		height    int
	)

	cmd := &cobra.Command{
		Use:   "take",
		Short: "Converge exposure and take one final still",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir != "" {
				app.OutDir = outDir
			}
			if backend != "" {
				app.Backend = backend
			}
			if cmd.Flags().Changed("keep-intermediates") {
				app.KeepIntermediates = keep
			}
			if err := app.Validate(); err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			sink := manifestSink(store, app.OutDir)

			gate := interlock.NewGate(
				interlock.Pin{Path: app.OffPinPath},
				interlock.Pin{Path: app.DebugPinPath},
				app.OutDir,
			)
			decision := gate.Evaluate()
			if decision.Debug {
				logLevel.Set(slog.LevelDebug)
			}
			opts := orchestrator.Options{OutDir: app.OutDir, KeepIntermediates: app.KeepIntermediates}
			if decision.Vetoed {
				runner := orchestrator.NewRunner(nil, nil, sink, nil, exposure.DefaultSettings(), opts, logger)
				runner.Abort(decision.Reason)
				return decision.Err()
			}
			logger.Info("take: gate", "action", decision.Action, "reason", decision.Reason, "hardware", decision.Hardware)

			csvPath := settingsCSV(cameraCSV)
			cam, err := loadCamera(store, csvPath)
			if err != nil {
				return err
			}
			if width > 0 {
				cam.Width = width
			}
			if height > 0 {
				cam.Height = height
			}

			capt, closeCapt, err := capturer(cam, dryRun)
			if err != nil {
				return err
			}
			defer closeCapt()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := orchestrator.NewRunner(capt, newMeasurer(), sink, store, cam.Settings, opts, logger)
			result, err := runner.Run(ctx, cam.SeedUs)
			if err != nil {
				return err
			}

			if !result.DryRun {
				if _, err := exportSettings(store, csvPath); err != nil {
					logger.Warn("take: could not write settings csv", "path", csvPath, "error", err)
				}
			}

			printRunResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the capture command without running the camera")
	cmd.Flags().BoolVar(&keep, "keep-intermediates", false, "keep iteration images")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "photo directory (overrides config)")
	cmd.Flags().StringVar(&cameraCSV, "camera-csv", "", "camera settings csv (default: external media, then config)")
	cmd.Flags().StringVar(&backend, "backend", "", "capture backend: rpicam or remote")
	cmd.Flags().IntVar(&width, "width", 0, "image width override")
	cmd.Flags().IntVar(&height, "height", 0, "image height override")

	return cmd
}

func printRunResult(r orchestrator.RunResult) {
	fmt.Printf("run:         %s\n", r.RunID)
	fmt.Printf("decision:    %s\n", r.Decision.Kind())
	fmt.Printf("iterations:  %d\n", r.Iterations)
	fmt.Printf("exposure:    %dus\n", r.FinalExposure)
	if r.DryRun {
		fmt.Println("dry run:     no final capture, seed unchanged")
		return
	}
	if r.Reused {
		fmt.Println("final:       reused iteration image")
	} else {
		fmt.Printf("final:       %d attempt(s)\n", r.FinalAttempts)
	}
	if r.Artifact != "" {
		fmt.Printf("artifact:    %s\n", r.Artifact)
	}
	if r.Mean != nil {
		fmt.Printf("mean:        %.2f\n", *r.Mean)
	}
	if r.Degraded {
		fmt.Println("degraded:    no valid final image, exposure persisted anyway")
	}
}
