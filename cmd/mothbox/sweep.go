package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mothbox/winter-capture/internal/orchestrator"
)

func sweepCmd() *cobra.Command {
	var (
		startUs int64
		endUs   int64
		count   int
		evStart float64
		evEnd   float64
		evStep  float64
		dryRun  bool
		outDir  string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Capture a grid of exposure times and EV values for calibration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir != "" {
				app.OutDir = outDir
			}
			if count < 1 {
				return fmt.Errorf("sweep: --count must be at least 1")
			}
			if startUs <= 0 || endUs <= 0 {
				return fmt.Errorf("sweep: exposures must be positive")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cam, err := loadCamera(store, settingsCSV(""))
			if err != nil {
				return err
			}
			capt, closeCapt, err := capturer(cam, dryRun)
			if err != nil {
				return err
			}
			defer closeCapt()

			if err := os.MkdirAll(app.OutDir, 0o755); err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			plan := orchestrator.SweepPlan{
				ExposuresUs: orchestrator.Linspace(startUs, endUs, count),
				EVs:         orchestrator.Frange(evStart, evEnd, evStep),
				Gains:       cam.Settings.Gains,
			}
			logger.Info("sweep: starting", "exposures", len(plan.ExposuresUs), "evs", len(plan.EVs))

			sweeper := orchestrator.NewSweeper(capt, newMeasurer(), manifestSink(store, app.OutDir),
				orchestrator.Options{OutDir: app.OutDir}, logger)
			runID, points, err := sweeper.Run(ctx, plan)

			fmt.Printf("run: %s\n", runID)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EXPOSURE_US\tEV\tRC\tMEAN\tFILE")
			for _, p := range points {
				mean := "-"
				if p.Mean != nil {
					mean = fmt.Sprintf("%.2f", *p.Mean)
				}
				fmt.Fprintf(w, "%d\t%+.2f\t%s\t%s\t%s\n",
					p.ExposureUs, p.EV, p.Result.ReturnCodeLabel(), mean, p.Result.Artifact)
			}
			w.Flush()
			return err
		},
	}

	cmd.Flags().Int64Var(&startUs, "start-us", 1000, "first exposure in microseconds")
	cmd.Flags().Int64Var(&endUs, "end-us", 100000, "last exposure in microseconds")
	cmd.Flags().IntVar(&count, "count", 5, "number of exposures")
	cmd.Flags().Float64Var(&evStart, "ev-start", 0, "first EV value")
	cmd.Flags().Float64Var(&evEnd, "ev-end", 0, "last EV value")
	cmd.Flags().Float64Var(&evStep, "ev-step", 0, "EV step, 0 for a single value")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print capture commands without running the camera")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "photo directory (overrides config)")

	return cmd
}
