package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/state"
)

// #region styles

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// decisionStyle colors a padded cell by terminal decision kind.
func decisionStyle(kind string, degraded bool) lipgloss.Style {
	if degraded {
		return badStyle
	}
	switch kind {
	case exposure.KindConverged:
		return goodStyle
	case exposure.KindStoppedAtFloor, exposure.KindStoppedAtCeiling, exposure.KindExhaustedIterations:
		return warnStyle
	case exposure.KindMeasurementUnavailable:
		return badStyle
	}
	return dimStyle
}

// #endregion styles

func inspectCmd() *cobra.Command {
	var (
		last    int
		runID   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show exposure history or the capture manifest of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				return runManifestMode(store, runID, jsonOut)
			}
			return runHistoryMode(store, last, jsonOut)
		},
	}

	cmd.Flags().IntVar(&last, "last", 20, "show N most recent exposure versions")
	cmd.Flags().StringVar(&runID, "run", "", "show the capture manifest of one run")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")

	return cmd
}

// #region history-mode

type historyRow struct {
	VersionID  string   `json:"version_id"`
	ParentID   string   `json:"parent_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	ExposureUs int64    `json:"exposure_us"`
	Decision   string   `json:"decision"`
	Mean       *float64 `json:"mean,omitempty"`
	Degraded   bool     `json:"degraded"`
	Artifact   string   `json:"artifact,omitempty"`
	CreatedAt  string   `json:"created_at"`
	Active     bool     `json:"active"`
}

func runHistoryMode(store *state.Store, last int, jsonOut bool) error {
	versions, err := store.ListVersions(last)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintln(os.Stderr, "no exposure versions found")
		return nil
	}
	activeID := ""
	if cur, err := store.GetCurrent(); err == nil {
		activeID = cur.VersionID
	}

	// store returns newest first, print chronologically
	rows := make([]historyRow, len(versions))
	for i, v := range versions {
		rows[len(versions)-1-i] = historyRow{
			VersionID:  v.VersionID,
			ParentID:   v.ParentID,
			RunID:      v.RunID,
			ExposureUs: v.ExposureUs,
			Decision:   v.Decision,
			Mean:       v.Mean,
			Degraded:   v.Degraded,
			Artifact:   v.Artifact,
			CreatedAt:  v.CreatedAt.Format("2006-01-02 15:04:05"),
			Active:     v.VersionID == activeID,
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-2s %-10s %-19s %12s  %-22s %8s  %s",
		"", "VERSION", "CREATED", "EXPOSURE_US", "DECISION", "MEAN", "RUN")))
	for _, r := range rows {
		marker := ""
		if r.Active {
			marker = "*"
		}
		decision := r.Decision
		if r.Degraded {
			decision += " (degraded)"
		}
		fmt.Printf("%-2s %-10s %-19s %12d  %s %8s  %s\n",
			marker, short(r.VersionID), r.CreatedAt, r.ExposureUs,
			decisionStyle(r.Decision, r.Degraded).Render(fmt.Sprintf("%-22s", decision)),
			meanCell(r.Mean), dimStyle.Render(short(r.RunID)))
	}
	return nil
}

// #endregion history-mode

// #region manifest-mode

type manifestRow struct {
	Stage      string          `json:"stage"`
	Timestamp  string          `json:"timestamp"`
	Filename   string          `json:"filename,omitempty"`
	ShutterUs  int64           `json:"requested_shutter_us,omitempty"`
	ReturnCode string          `json:"return_code,omitempty"`
	Stderr     string          `json:"stderr,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Mean       *float64        `json:"mean,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

func runManifestMode(store *state.Store, runID string, jsonOut bool) error {
	entries, err := store.ListManifest(runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no manifest rows for run %s", runID)
	}

	rows := make([]manifestRow, len(entries))
	for i, e := range entries {
		rows[i] = manifestRow{
			Stage:      e.Stage,
			Timestamp:  e.Timestamp,
			Filename:   e.Filename,
			ShutterUs:  e.RequestedShutterUs,
			ReturnCode: e.ReturnCode,
			Stderr:     e.Stderr,
			Mean:       e.Mean,
			Notes:      e.Notes,
		}
		if e.MetadataJSON != "" && json.Valid([]byte(e.MetadataJSON)) {
			rows[i].Metadata = json.RawMessage(e.MetadataJSON)
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-14s %-19s %12s %8s %8s  %s",
		"STAGE", "TIMESTAMP", "SHUTTER_US", "RC", "MEAN", "NOTES")))
	for _, r := range rows {
		rc := fmt.Sprintf("%8s", r.ReturnCode)
		switch r.ReturnCode {
		case "0":
			rc = goodStyle.Render(rc)
		case "", "DRY-RUN":
			rc = dimStyle.Render(rc)
		default:
			rc = badStyle.Render(rc)
		}
		fmt.Printf("%-14s %-19s %12d %s %8s  %s\n",
			r.Stage, r.Timestamp, r.ShutterUs, rc, meanCell(r.Mean), r.Notes)
		if r.Filename != "" {
			fmt.Printf("%-14s %s\n", "", dimStyle.Render(r.Filename))
		}
	}
	return nil
}

// #endregion manifest-mode

// #region helpers

func meanCell(m *float64) string {
	if m == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *m)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
