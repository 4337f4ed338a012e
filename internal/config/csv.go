package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mothbox/winter-capture/internal/state"
)

var csvHeader = []string{"SETTING", "VALUE", "DETAILS"}

// DefaultSearchRoots are where removable media gets mounted on the device.
var DefaultSearchRoots = []string{"/media", "/mnt"}

// #region read
// ReadCSV reads a SETTING,VALUE,DETAILS file. A missing file yields no settings.
func ReadCSV(path string) ([]state.Setting, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open settings csv: %w", err)
	}
	defer f.Close()
	return decodeCSV(f)
}

func decodeCSV(r io.Reader) ([]state.Setting, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	keyCol, ok := col["SETTING"]
	if !ok {
		return nil, fmt.Errorf("settings csv: missing SETTING column")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []state.Setting
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read settings row: %w", err)
		}
		if keyCol >= len(rec) || strings.TrimSpace(rec[keyCol]) == "" {
			continue
		}
		out = append(out, state.Setting{
			Key:     strings.TrimSpace(rec[keyCol]),
			Value:   field(rec, "VALUE"),
			Details: field(rec, "DETAILS"),
		})
	}
	return out, nil
}

// #endregion read

// #region write
// WriteCSV rewrites path with settings in order. Rows with empty Details keep
// the description already present in the file.
func WriteCSV(path string, settings []state.Setting) error {
	existing, err := ReadCSV(path)
	if err != nil {
		return err
	}
	details := make(map[string]string, len(existing))
	for _, s := range existing {
		details[s.Key] = s.Details
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create settings csv: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(csvHeader)
	for _, s := range settings {
		d := s.Details
		if d == "" {
			d = details[s.Key]
		}
		_ = w.Write([]string{s.Key, s.Value, d})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write settings csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close settings csv: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace settings csv: %w", err)
	}
	return nil
}

// #endregion write

// #region find-external
// FindExternal looks for name directly inside each mount under roots, so
// /media/<stick>/name wins over the on-board copy. Returns "" when nothing matches.
func FindExternal(name string, roots []string) string {
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			candidate := filepath.Join(root, e.Name(), name)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate
			}
		}
	}
	return ""
}

// #endregion find-external
