package camera

import (
	"encoding/json"
	"strings"

	"github.com/mothbox/winter-capture/internal/exposure"
)

// #region extract
// ExtractMetadata decodes the JSON metadata rpicam-still prints on stdout. When the
// output has noise around the document, the first '{' to the last '}' is tried.
// Returns nil when no JSON object can be found.
func ExtractMetadata(stdout string) *exposure.Metadata {
	raw := decodeObject(stdout)
	if raw == nil {
		start := strings.Index(stdout, "{")
		end := strings.LastIndex(stdout, "}")
		if start == -1 || end <= start {
			return nil
		}
		raw = decodeObject(stdout[start : end+1])
	}
	if raw == nil {
		return nil
	}
	return MetadataFromMap(raw)
}

// MetadataFromMap picks the known fields out of a decoded metadata document.
// Each field accepts the long and the short key; the first non-zero value wins.
func MetadataFromMap(raw map[string]any) *exposure.Metadata {
	return &exposure.Metadata{
		ExposureTime: firstNumber(raw, "ExposureTime", "exp", "shutter"),
		AnalogueGain: firstNumber(raw, "AnalogueGain", "ag"),
		DigitalGain:  firstNumber(raw, "DigitalGain", "dg"),
		AwbGains:     firstNumbers(raw, "AwbGains", "awbgains"),
		Raw:          raw,
	}
}

// #endregion extract

// #region helpers
func decodeObject(s string) map[string]any {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	return raw
}

func firstNumber(raw map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if f, ok := raw[k].(float64); ok && f != 0 {
			return &f
		}
	}
	return nil
}

func firstNumbers(raw map[string]any, keys ...string) []float64 {
	for _, k := range keys {
		list, ok := raw[k].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		out := make([]float64, 0, len(list))
		for _, v := range list {
			if f, ok := v.(float64); ok {
				out = append(out, f)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// #endregion helpers
