package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mothbox/winter-capture/internal/replay"
)

func replayCmd() *cobra.Command {
	var (
		fixturePath string
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run fixture scenarios through the controller against a synthetic camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixturePath == "" {
				return fmt.Errorf("replay: --fixture is required")
			}
			f, err := replay.LoadFixture(fixturePath)
			if err != nil {
				return err
			}

			results, err := replay.Replay(cmd.Context(), f, logger)
			if err != nil {
				return err
			}
			summary := replay.Summarize(results)

			if jsonOut {
				if err := printJSON(map[string]any{"results": results, "summary": summary}); err != nil {
					return err
				}
			} else {
				printReplay(f, results, summary)
			}

			if summary.Failed > 0 {
				return fmt.Errorf("replay: %d of %d scenarios failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fixturePath, "fixture", "", "path to fixture YAML or JSON")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")

	return cmd
}

func printReplay(f *replay.Fixture, results []replay.ScenarioResult, s replay.ReplaySummary) {
	if f.Description != "" {
		fmt.Println(dimStyle.Render(f.Description))
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-28s %-22s %5s %12s %8s  %s",
		"SCENARIO", "DECISION", "ITERS", "EXPOSURE_US", "MEAN", "RESULT")))
	for _, r := range results {
		status := goodStyle.Render("PASS")
		if !r.Passed {
			status = badStyle.Render("FAIL: " + strings.Join(r.Failures, "; "))
		}
		fmt.Printf("%-28s %-22s %5d %12d %8s  %s\n",
			r.Name, r.Decision, r.Iterations, r.FinalExposure, meanCell(r.FinalMean), status)
	}

	kinds := make([]string, 0, len(s.ByDecision))
	for k := range s.ByDecision {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, s.ByDecision[k])
	}
	fmt.Printf("\n%d scenarios, %d passed, %d failed (%s)\n", s.Total, s.Passed, s.Failed, strings.Join(parts, ", "))
}
