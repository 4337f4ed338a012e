package interlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// #region pin
// Pin is a pulled-up input exported through a sysfs-style value file. Grounding
// the pin (value "0") makes it active.
type Pin struct {
	Path string
}

// Read reports whether the pin is active. available is false when the value
// file is missing or unreadable, which is the normal case off the device.
func (p Pin) Read() (active, available bool) {
	if p.Path == "" {
		return false, false
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return false, false
	}
	return strings.TrimSpace(string(data)) == "0", true
}

// #endregion pin

// #region gate
// Gate decides whether a capture run may start.
type Gate struct {
	off    Pin
	debug  Pin
	outDir string
}

// NewGate checks the OFF and DEBUG pins and that outDir can hold captures.
// An empty outDir skips the directory check.
func NewGate(off, debug Pin, outDir string) *Gate {
	return &Gate{off: off, debug: debug, outDir: outDir}
}

// Evaluate collects every veto before deciding, so the abort reason names the first
// and the manifest can list all of them.
func (g *Gate) Evaluate() GateDecision {
	var vetoes []VetoSignal

	offActive, offAvail := g.off.Read()
	debugActive, debugAvail := g.debug.Read()

	if offActive {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoOffSwitch,
			Reason: "OFF pin active",
		})
	}

	if g.outDir != "" {
		if err := ensureWritable(g.outDir); err != nil {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoOutputDir,
				Reason: err.Error(),
			})
		}
	}

	d := GateDecision{
		Debug:    debugActive,
		Hardware: offAvail || debugAvail,
	}
	if len(vetoes) > 0 {
		d.Action = ActionAbort
		d.Reason = vetoes[0].Reason
		d.Vetoed = true
		d.VetoSignals = vetoes
		return d
	}
	d.Action = ActionRun
	d.Reason = "armed"
	if !d.Hardware {
		d.Reason = "pins unavailable, continuing in non-hardware mode"
	}
	return d
}

// #endregion gate

// #region helpers
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".mothbox-write-check-*")
	if err != nil {
		return fmt.Errorf("output directory %s not writable: %w", filepath.Clean(dir), err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return nil
}

// #endregion helpers
