package replay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mothbox/winter-capture/internal/exposure"
)

// #region fixture-types

// Fixture is the top-level structure of a replay fixture file (YAML or JSON).
type Fixture struct {
	Description string            `yaml:"description"`
	Scenarios   []FixtureScenario `yaml:"scenarios"`
}

// FixtureScenario is one simulated run against a synthetic camera.
type FixtureScenario struct {
	Name     string          `yaml:"name"`
	SeedUs   int64           `yaml:"seed_us"`
	Settings FixtureSettings `yaml:"settings"`
	Camera   FixtureCamera   `yaml:"camera"`
	Expect   FixtureExpect   `yaml:"expect"`
}

// FixtureSettings mirrors exposure.Settings. Zero values take the defaults.
type FixtureSettings struct {
	TargetMean           float64 `yaml:"target_mean"`
	TolerancePct         float64 `yaml:"tolerance_pct"`
	MinExposure          int64   `yaml:"min_exposure"`
	MaxExposure          int64   `yaml:"max_exposure"`
	MaxChangeFactor      float64 `yaml:"max_change_factor"`
	GammaExponent        float64 `yaml:"gamma_exponent"`
	GammaTransitionError float64 `yaml:"gamma_transition_error"`
	LoopIterations       int     `yaml:"loop_iterations"`
	RetryCount           *int    `yaml:"retry_count"`
}

// FixtureCamera describes the synthetic sensor: mean = clamp(offset + exposure/divisor, 0, 255).
type FixtureCamera struct {
	Offset    float64 `yaml:"offset"`
	Divisor   float64 `yaml:"divisor"`
	FailCalls []int   `yaml:"fail_calls"` // 1-based capture calls that fail, final stage included
}

// FixtureExpect holds the checks applied to the scenario outcome. Zero values are not checked.
type FixtureExpect struct {
	Decision      string  `yaml:"decision"`
	MinMean       float64 `yaml:"min_mean"`
	MaxMean       float64 `yaml:"max_mean"`
	MaxIterations int     `yaml:"max_iterations"`
	FinalExposure int64   `yaml:"final_exposure"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a fixture file. JSON fixtures parse through the same decoder.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("fixture %s has no scenarios", path)
	}
	for i, s := range f.Scenarios {
		if s.Camera.Divisor <= 0 {
			return nil, fmt.Errorf("fixture %s: scenario %d (%s): camera divisor must be positive", path, i, s.Name)
		}
	}
	return &f, nil
}

// ToSettings converts fixture settings to controller settings over the defaults.
func (fs FixtureSettings) ToSettings() exposure.Settings {
	s := exposure.DefaultSettings()
	if fs.TargetMean != 0 {
		s.TargetMean = fs.TargetMean
	}
	if fs.TolerancePct != 0 {
		s.TolerancePct = fs.TolerancePct
	}
	if fs.MinExposure != 0 {
		s.MinExposure = fs.MinExposure
	}
	if fs.MaxExposure != 0 {
		s.MaxExposure = fs.MaxExposure
	}
	if fs.MaxChangeFactor != 0 {
		s.MaxChangeFactor = fs.MaxChangeFactor
	}
	if fs.GammaExponent != 0 {
		s.GammaExponent = fs.GammaExponent
	}
	if fs.GammaTransitionError != 0 {
		s.GammaTransitionError = fs.GammaTransitionError
	}
	if fs.LoopIterations != 0 {
		s.LoopIterations = fs.LoopIterations
	}
	if fs.RetryCount != nil {
		s.RetryCount = *fs.RetryCount
	}
	return s
}

// #endregion fixture-loader
