package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mothbox/winter-capture/internal/exposure"
	"github.com/mothbox/winter-capture/internal/state"
)

// #region keys
// Setting keys as they appear in the camera settings CSV.
const (
	KeyExposureTime         = state.SeedSettingKey
	KeyAnalogueGain         = "AnalogueGain"
	KeyGain                 = "Gain"
	KeyAwbGains             = "AwbGains"
	KeyWidth                = "Width"
	KeyHeight               = "Height"
	KeyTargetMean           = "TargetMean"
	KeyLoopIterations       = "LoopIterations"
	KeyRetryCount           = "RetryCount"
	KeyMinExposure          = "MinExposure"
	KeyMaxExposure          = "MaxExposure"
	KeyTolerancePct         = "TolerancePct"
	KeyMaxChangeFactor      = "MaxChangeFactor"
	KeyGammaExponent        = "GammaExponent"
	KeyGammaTransitionError = "GammaTransitionError"
)

const (
	DefaultSeedUs = 1000
	DefaultWidth  = 9248
	DefaultHeight = 6944
)

// #endregion keys

// #region camera
// Camera is everything a run needs from the settings store.
type Camera struct {
	SeedUs   int64
	Width    int
	Height   int
	Settings exposure.Settings
}

// Parse builds a Camera from stored values. Empty or missing values take their
// defaults; malformed numbers are rejected. The result is validated.
func Parse(values map[string]string) (Camera, error) {
	def := exposure.DefaultSettings()
	p := parser{values: values}

	cam := Camera{
		SeedUs: p.int64(KeyExposureTime, DefaultSeedUs),
		Width:  int(p.int64(KeyWidth, DefaultWidth)),
		Height: int(p.int64(KeyHeight, DefaultHeight)),
		Settings: exposure.Settings{
			TargetMean:           p.float(KeyTargetMean, def.TargetMean),
			TolerancePct:         p.float(KeyTolerancePct, def.TolerancePct),
			MinExposure:          p.int64(KeyMinExposure, def.MinExposure),
			MaxExposure:          p.int64(KeyMaxExposure, def.MaxExposure),
			MaxChangeFactor:      p.float(KeyMaxChangeFactor, def.MaxChangeFactor),
			GammaExponent:        p.float(KeyGammaExponent, def.GammaExponent),
			GammaTransitionError: p.float(KeyGammaTransitionError, def.GammaTransitionError),
			LoopIterations:       int(p.int64(KeyLoopIterations, int64(def.LoopIterations))),
			RetryCount:           int(p.int64(KeyRetryCount, int64(def.RetryCount))),
			Gains: exposure.GainSettings{
				AnalogGain:  p.optionalFloat(KeyAnalogueGain),
				DigitalGain: p.optionalFloat(KeyGain),
				AwbGains:    ParseAwbGains(values[KeyAwbGains]),
			},
		},
	}
	if p.err != nil {
		return Camera{}, p.err
	}
	if cam.Width <= 0 || cam.Height <= 0 {
		return Camera{}, fmt.Errorf("%w: image size %dx%d", exposure.ErrInvalidSettings, cam.Width, cam.Height)
	}
	if err := cam.Settings.Validate(); err != nil {
		return Camera{}, err
	}
	return cam, nil
}

// ParseAwbGains accepts "r,b" with both components positive. Anything else
// means automatic white balance.
func ParseAwbGains(raw string) *exposure.AwbGains {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 2 {
		return nil
	}
	r, errR := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errR != nil || errB != nil || r <= 0 || b <= 0 {
		return nil
	}
	return &exposure.AwbGains{Red: r, Blue: b}
}

// #endregion camera

// #region parser
// parser keeps the first conversion error so Parse can read every key in one pass.
type parser struct {
	values map[string]string
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	v := strings.TrimSpace(p.values[key])
	return v, v != ""
}

func (p *parser) fail(key, v string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q is not a number", exposure.ErrInvalidSettings, key, v)
	}
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v)
		return def
	}
	return f
}

func (p *parser) optionalFloat(key string) *float64 {
	v, ok := p.raw(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v)
		return nil
	}
	return &f
}

// int64 also accepts integral floats ("1000.0") since spreadsheets like to write them.
func (p *parser) int64(key string, def int64) int64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		p.fail(key, v)
		return def
	}
	return int64(f)
}

// #endregion parser

// #region defaults
// Defaults lists every known key with its default value and a short description,
// used to seed an empty settings store.
func Defaults() []state.Setting {
	def := exposure.DefaultSettings()
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	i := func(v int64) string { return strconv.FormatInt(v, 10) }
	return []state.Setting{
		{Key: KeyExposureTime, Value: i(DefaultSeedUs), Details: "seed exposure in microseconds, rewritten after every run"},
		{Key: KeyAnalogueGain, Value: "", Details: "fixed analog gain, empty for auto"},
		{Key: KeyGain, Value: "", Details: "fixed digital gain, empty for auto"},
		{Key: KeyAwbGains, Value: "", Details: "fixed white balance r,b, empty for auto"},
		{Key: KeyWidth, Value: i(DefaultWidth), Details: "image width in px"},
		{Key: KeyHeight, Value: i(DefaultHeight), Details: "image height in px"},
		{Key: KeyTargetMean, Value: f(def.TargetMean), Details: "desired mean brightness 0-255"},
		{Key: KeyLoopIterations, Value: i(int64(def.LoopIterations)), Details: "max convergence captures"},
		{Key: KeyRetryCount, Value: i(int64(def.RetryCount)), Details: "extra attempts for the final capture"},
		{Key: KeyMinExposure, Value: i(def.MinExposure), Details: "shortest exposure in microseconds"},
		{Key: KeyMaxExposure, Value: i(def.MaxExposure), Details: "longest exposure in microseconds"},
		{Key: KeyTolerancePct, Value: f(def.TolerancePct), Details: "accepted deviation from target in percent"},
		{Key: KeyMaxChangeFactor, Value: f(def.MaxChangeFactor), Details: "max exposure change per iteration"},
		{Key: KeyGammaExponent, Value: f(def.GammaExponent), Details: "correction exponent for large errors"},
		{Key: KeyGammaTransitionError, Value: f(def.GammaTransitionError), Details: "normalized error where the full exponent applies"},
	}
}

// #endregion defaults

// #region ordered
// Ordered lists stored settings with the known keys first, in Defaults order, and
// any other keys after them sorted by name.
func Ordered(settings map[string]state.Setting) []state.Setting {
	out := make([]state.Setting, 0, len(settings))
	seen := make(map[string]bool, len(settings))
	for _, d := range Defaults() {
		if s, ok := settings[d.Key]; ok {
			out = append(out, s)
			seen[d.Key] = true
		}
	}
	var extra []string
	for k := range settings {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, settings[k])
	}
	return out
}

// #endregion ordered
