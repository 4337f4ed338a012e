package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mothbox/winter-capture/internal/config"
	"github.com/mothbox/winter-capture/internal/state"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the camera settings store",
	}
	cmd.AddCommand(settingsImportCmd())
	cmd.AddCommand(settingsExportCmd())
	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsRollbackCmd())
	return cmd
}

func settingsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [csv]",
		Short: "Load a SETTING,VALUE,DETAILS csv into the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsCSV(firstArg(args))
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cam, err := loadCamera(store, path)
			if err != nil {
				return err
			}

			// a seed that arrives by import starts the version history
			if _, err := store.GetCurrent(); errors.Is(err, state.ErrNoActiveExposure) {
				if _, err := store.CreateInitialExposure(cam.SeedUs, "import"); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			fmt.Printf("imported %s (seed %dus)\n", path, cam.SeedUs)
			return nil
		},
	}
}

func settingsExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [csv]",
		Short: "Write the store back to a SETTING,VALUE,DETAILS csv",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := firstArg(args)
			if path == "" {
				path = app.CameraCSV
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.Settings()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				return fmt.Errorf("settings: store is empty, run import first")
			}
			n, err := exportSettings(store, path)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d settings to %s\n", n, path)
			return nil
		},
	}
}

func settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print stored settings and the parsed controller parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.Settings()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SETTING\tVALUE\tDETAILS")
			for _, s := range config.Ordered(all) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Value, s.Details)
			}
			w.Flush()

			values, err := store.SettingValues()
			if err != nil {
				return err
			}
			cam, err := config.Parse(values)
			if err != nil {
				return err
			}
			s := cam.Settings
			fmt.Printf("\nseed %dus, target %.1f ±%.1f%%, range [%d, %d]us, %d iterations, %d retries\n",
				cam.SeedUs, s.TargetMean, s.TolerancePct, s.MinExposure, s.MaxExposure, s.LoopIterations, s.RetryCount)
			return nil
		},
	}
}

func settingsRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Make an earlier exposure version the active seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			path := settingsCSV("")
			cur, err := rollbackSeed(store, args[0], path)
			if err != nil {
				return err
			}
			fmt.Printf("active seed is now %dus (version %s), written to %s\n", cur.ExposureUs, cur.VersionID, path)
			return nil
		},
	}
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
