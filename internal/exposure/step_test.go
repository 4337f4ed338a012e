package exposure

import (
	"errors"
	"math"
	"testing"
)

// #region helpers
func mean(v float64) *float64 { return &v }

func outcome(v float64) CaptureOutcome {
	return CaptureOutcome{Succeeded: true, Artifact: "iter.jpg", MeanBrightness: mean(v)}
}

// linearCamera simulates a sensor whose brightness is k*exposure, saturated at 255.
func linearCamera(k float64) func(int64) float64 {
	return func(e int64) float64 {
		return math.Max(0, math.Min(255, k*float64(e)))
	}
}

// converge drives Step the way the orchestrator loop does and returns the terminal decision.
func converge(s Settings, seed int64, measure func(int64) float64) (Decision, int) {
	st := NewState(seed, s)
	for st.Iteration < s.LoopIterations {
		st.Iteration++
		res := Step(&st, s, outcome(measure(st.CurrentExposure)))
		if res.Decision.Terminal() {
			return res.Decision, st.Iteration
		}
	}
	return ExhaustedIterations{Last: st.CurrentExposure}, st.Iteration
}

// #endregion helpers

// #region step-tests
func TestStep_MissingMeasurementLeavesStateAlone(t *testing.T) {
	s := DefaultSettings()
	st := NewState(5000, s)
	prev := 12.0
	st.LastError = &prev

	res := Step(&st, s, CaptureOutcome{Succeeded: false})

	if _, ok := res.Decision.(MeasurementUnavailable); !ok {
		t.Fatalf("expected MeasurementUnavailable, got %T", res.Decision)
	}
	if st.CurrentExposure != 5000 {
		t.Fatalf("exposure changed to %d", st.CurrentExposure)
	}
	if st.LastError == nil || *st.LastError != 12 {
		t.Fatal("last error should be untouched")
	}
	if res.Decision.Terminal() {
		t.Fatal("MeasurementUnavailable must not be terminal")
	}
}

func TestStep_WithinTolerance(t *testing.T) {
	s := DefaultSettings()
	st := NewState(2000, s)

	res := Step(&st, s, outcome(104))

	d, ok := res.Decision.(ConvergedWithinTolerance)
	if !ok {
		t.Fatalf("expected ConvergedWithinTolerance, got %T", res.Decision)
	}
	if d.Exposure != 2000 || d.Artifact != "iter.jpg" || d.Mean != 104 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if res.Metrics.Corrected {
		t.Fatal("no correction expected when converged")
	}
}

func TestStep_StoppedAtFloor(t *testing.T) {
	s := DefaultSettings()
	st := NewState(s.MinExposure, s)

	res := Step(&st, s, outcome(255))

	d, ok := res.Decision.(StoppedAtFloor)
	if !ok {
		t.Fatalf("expected StoppedAtFloor, got %T", res.Decision)
	}
	if d.Exposure != s.MinExposure {
		t.Fatalf("expected floor exposure %d, got %d", s.MinExposure, d.Exposure)
	}
	if st.CurrentExposure != s.MinExposure {
		t.Fatalf("exposure moved below floor: %d", st.CurrentExposure)
	}
}

func TestStep_DarkAtFloorStillCorrects(t *testing.T) {
	s := DefaultSettings()
	st := NewState(s.MinExposure, s)

	res := Step(&st, s, outcome(40))

	if _, ok := res.Decision.(Continue); !ok {
		t.Fatalf("expected Continue, got %T", res.Decision)
	}
	if st.CurrentExposure <= s.MinExposure {
		t.Fatalf("expected longer exposure, got %d", st.CurrentExposure)
	}
}

func TestStep_ZeroMeanUsesMaxChangeFactor(t *testing.T) {
	s := DefaultSettings()
	st := NewState(1000, s)

	res := Step(&st, s, outcome(0))

	if res.Metrics.RawFactor != s.MaxChangeFactor {
		t.Fatalf("expected raw factor %.2f, got %.4f", s.MaxChangeFactor, res.Metrics.RawFactor)
	}
	if st.CurrentExposure != 4000 {
		t.Fatalf("expected 4000, got %d", st.CurrentExposure)
	}
}

func TestStep_StoppedAtCeiling(t *testing.T) {
	s := DefaultSettings()
	s.MaxExposure = 10000
	st := NewState(9000, s)

	res := Step(&st, s, outcome(20))

	d, ok := res.Decision.(StoppedAtCeiling)
	if !ok {
		t.Fatalf("expected StoppedAtCeiling, got %T", res.Decision)
	}
	if d.Next != s.MaxExposure {
		t.Fatalf("expected ceiling %d, got %d", s.MaxExposure, d.Next)
	}
	if exp, ok := ResultExposure(d); !ok || exp != s.MaxExposure {
		t.Fatalf("ResultExposure = %d, %v", exp, ok)
	}
}

func TestStep_GammaNearLinearForSmallErrors(t *testing.T) {
	s := DefaultSettings()
	st := NewState(1000, s)

	res := Step(&st, s, outcome(90))

	// |norm error| 0.1 over transition 0.6
	want := 1 + (s.GammaExponent-1)*(0.1/0.6)
	if math.Abs(res.Metrics.GammaDynamic-want) > 1e-9 {
		t.Fatalf("expected gamma %.6f, got %.6f", want, res.Metrics.GammaDynamic)
	}
	if res.Metrics.GammaDynamic >= s.GammaExponent {
		t.Fatal("small error should not use the full exponent")
	}
}

func TestStep_DampingAfterSignFlips(t *testing.T) {
	s := DefaultSettings()
	st := NewState(1000, s)

	// dark, bright (flip), bright (settling), dark (flip)
	means := []float64{50, 200, 150, 60}
	flips := map[int]bool{1: true, 3: true}

	for i, m := range means {
		res := Step(&st, s, outcome(m))
		if _, ok := res.Decision.(Continue); !ok {
			t.Fatalf("step %d: expected Continue, got %T", i, res.Decision)
		}
		if flips[i] {
			if !res.Metrics.Damped {
				t.Fatalf("step %d: expected damping after sign flip", i)
			}
			if d := math.Abs(res.Metrics.Factor - 1); d > 0.25+1e-12 {
				t.Fatalf("step %d: |factor-1| = %.4f exceeds 0.25", i, d)
			}
		}
	}
	if st.SettleCounter != 1 {
		t.Fatalf("expected one settle iteration left, got %d", st.SettleCounter)
	}
}

func TestStep_FactorAndExposureAlwaysBounded(t *testing.T) {
	s := DefaultSettings()
	s.MaxExposure = 1_000_000
	seeds := []int64{s.MinExposure, 150, 1000, 500_000, s.MaxExposure}

	for _, seed := range seeds {
		for m := 0.0; m <= 255; m += 0.5 {
			st := NewState(seed, s)
			res := Step(&st, s, outcome(m))
			if !res.Metrics.Corrected {
				continue
			}
			f := res.Metrics.Factor
			if f < 1/s.MaxChangeFactor-1e-12 || f > s.MaxChangeFactor+1e-12 {
				t.Fatalf("seed %d mean %.1f: factor %.4f out of bounds", seed, m, f)
			}
			if st.CurrentExposure < s.MinExposure || st.CurrentExposure > s.MaxExposure {
				t.Fatalf("seed %d mean %.1f: exposure %d out of bounds", seed, m, st.CurrentExposure)
			}
		}
	}
}

// #endregion step-tests

// #region convergence-tests
func TestConverge_LinearSensor(t *testing.T) {
	for _, target := range []float64{60, 100, 150} {
		for _, tol := range []float64{3, 5, 10} {
			for _, k := range []float64{0.002, 0.01, 0.05, 0.2, 0.5} {
				s := DefaultSettings()
				s.TargetMean = target
				s.TolerancePct = tol
				s.LoopIterations = 10

				d, _ := converge(s, 1000, linearCamera(k))
				c, ok := d.(ConvergedWithinTolerance)
				if !ok {
					t.Fatalf("target %.0f tol %.0f k %.3f: expected convergence, got %s", target, tol, k, d.Kind())
				}
				if math.Abs(c.Mean-target)/target*100 > tol {
					t.Fatalf("target %.0f tol %.0f k %.3f: mean %.2f outside tolerance", target, tol, k, c.Mean)
				}
			}
		}
	}
}

func TestConverge_FieldScenario(t *testing.T) {
	s := Settings{
		TargetMean:           100,
		TolerancePct:         5,
		MinExposure:          100,
		MaxExposure:          240000000,
		MaxChangeFactor:      4,
		GammaExponent:        2.2,
		GammaTransitionError: 0.6,
		LoopIterations:       5,
	}
	measure := func(e int64) float64 {
		return math.Max(0, math.Min(255, 50+float64(e)/20))
	}

	for _, seed := range []int64{1000, 200, 20000} {
		d, iters := converge(s, seed, measure)
		c, ok := d.(ConvergedWithinTolerance)
		if !ok {
			t.Fatalf("seed %d: expected convergence within 5 iterations, got %s", seed, d.Kind())
		}
		if c.Mean < 95 || c.Mean > 105 {
			t.Fatalf("seed %d: mean %.2f outside [95,105]", seed, c.Mean)
		}
		if iters > 5 {
			t.Fatalf("seed %d: used %d iterations", seed, iters)
		}
	}
}

func TestConverge_SaturatedAtFloor(t *testing.T) {
	s := DefaultSettings()
	d, iters := converge(s, s.MinExposure, func(int64) float64 { return 255 })

	if _, ok := d.(StoppedAtFloor); !ok {
		t.Fatalf("expected StoppedAtFloor, got %s", d.Kind())
	}
	if iters != 1 {
		t.Fatalf("expected stop on first iteration, got %d", iters)
	}
}

// #endregion convergence-tests

// #region settings-tests
func TestValidate(t *testing.T) {
	neg := -1.0
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero target", func(s *Settings) { s.TargetMean = 0 }},
		{"target above 255", func(s *Settings) { s.TargetMean = 300 }},
		{"negative tolerance", func(s *Settings) { s.TolerancePct = -1 }},
		{"zero min exposure", func(s *Settings) { s.MinExposure = 0 }},
		{"min above max", func(s *Settings) { s.MinExposure = s.MaxExposure + 1 }},
		{"change factor below one", func(s *Settings) { s.MaxChangeFactor = 0.5 }},
		{"zero transition", func(s *Settings) { s.GammaTransitionError = 0 }},
		{"no iterations", func(s *Settings) { s.LoopIterations = 0 }},
		{"negative retries", func(s *Settings) { s.RetryCount = -1 }},
		{"negative gain", func(s *Settings) { s.Gains.DigitalGain = &neg }},
		{"bad awb", func(s *Settings) { s.Gains.AwbGains = &AwbGains{Red: 1.5, Blue: 0} }},
		{"NaN target", func(s *Settings) { s.TargetMean = math.NaN() }},
		{"NaN tolerance", func(s *Settings) { s.TolerancePct = math.NaN() }},
		{"infinite change factor", func(s *Settings) { s.MaxChangeFactor = math.Inf(1) }},
		{"NaN gamma", func(s *Settings) { s.GammaExponent = math.NaN() }},
		{"infinite transition", func(s *Settings) { s.GammaTransitionError = math.Inf(1) }},
		{"NaN gain", func(s *Settings) { nan := math.NaN(); s.Gains.AnalogGain = &nan }},
		{"infinite awb", func(s *Settings) { s.Gains.AwbGains = &AwbGains{Red: math.Inf(1), Blue: 1} }},
	}

	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, tc := range cases {
		s := DefaultSettings()
		tc.mutate(&s)
		err := s.Validate()
		if !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("%s: expected ErrInvalidSettings, got %v", tc.name, err)
		}
	}
}

func TestNewStateClampsSeed(t *testing.T) {
	s := DefaultSettings()
	if st := NewState(1, s); st.CurrentExposure != s.MinExposure {
		t.Fatalf("expected %d, got %d", s.MinExposure, st.CurrentExposure)
	}
	if st := NewState(s.MaxExposure*2, s); st.CurrentExposure != s.MaxExposure {
		t.Fatalf("expected %d, got %d", s.MaxExposure, st.CurrentExposure)
	}
}

func TestAwbGainsString(t *testing.T) {
	if got := (AwbGains{Red: 1.8, Blue: 1.5}).String(); got != "1.8,1.5" {
		t.Fatalf("expected 1.8,1.5, got %s", got)
	}
}

// #endregion settings-tests
