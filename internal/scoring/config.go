package scoring

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 0.001

// Config is the scoring configuration surface. It is validated once by New and
// copied into the Scorer; later changes to the caller's value have no effect.
type Config struct {
	// Weights maps component names to their share of the composite score. They must sum to 1.0.
	Weights map[string]float64 `mapstructure:"weights" json:"weights"`

	PassThreshold float64 `mapstructure:"pass-threshold" json:"pass_threshold"`
	FailThreshold float64 `mapstructure:"fail-threshold" json:"fail_threshold"`

	// StalenessWindow is the oldest acceptable age of the most recent filing.
	StalenessWindow time.Duration `mapstructure:"staleness-window" json:"staleness_window"`
	// DivergenceThreshold is the largest tolerated spread between component scores.
	DivergenceThreshold float64 `mapstructure:"divergence-threshold" json:"divergence_threshold"`
	// MaxInsufficientFraction is the largest tolerated share of weighted components without data.
	MaxInsufficientFraction float64 `mapstructure:"max-insufficient-fraction" json:"max_insufficient_fraction"`
	// DisabledSafeguards names safeguards to skip.
	DisabledSafeguards []string `mapstructure:"disabled-safeguards" json:"disabled_safeguards,omitempty"`

	// MinSampleSize is the number of tagged Schedule I grants a sample must exceed before coherence is trusted fully.
	MinSampleSize int `mapstructure:"min-sample-size" json:"min_sample_size"`
	// HalfLifeYears is the age at which a grant's coherence vote counts half.
	HalfLifeYears float64 `mapstructure:"half-life-years" json:"half_life_years"`

	// TooSmallRatio is the fraction of the median grant below which a need is too small.
	TooSmallRatio float64 `mapstructure:"too-small-ratio" json:"too_small_ratio"`
	// SizeDecayWidth is the width, in natural-log units, of the grant-size fit curve.
	SizeDecayWidth float64 `mapstructure:"size-decay-width" json:"size_decay_width"`
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			ComponentNTEE:       0.30,
			ComponentGeographic: 0.15,
			ComponentGrantSize:  0.20,
			ComponentCoherence:  0.15,
			ComponentPayout:     0.20,
		},
		PassThreshold:           70,
		FailThreshold:           40,
		StalenessWindow:         3 * 365 * 24 * time.Hour,
		DivergenceThreshold:     0.75,
		MaxInsufficientFraction: 0.4,
		MinSampleSize:           5,
		HalfLifeYears:           3,
		TooSmallRatio:           0.2,
		SizeDecayWidth:          1.0,
	}
}

// Thresholds returns the pass/fail cut-offs.
func (c Config) Thresholds() Thresholds {
	return Thresholds{Pass: c.PassThreshold, Fail: c.FailThreshold}
}

// Weight returns the weight of a component, zero when unset.
func (c Config) Weight(component string) float64 {
	return c.Weights[component]
}

// Validate checks every field and reports all problems at once as a *ConfigError.
func (c Config) Validate() error {
	var problems []string

	if len(c.Weights) == 0 {
		problems = append(problems, "weights are required")
	}

	names := slices.Sorted(maps.Keys(c.Weights))
	var sum float64
	for _, name := range names {
		w := c.Weights[name]
		if !slices.Contains(KnownComponents, name) {
			problems = append(problems, fmt.Sprintf("unknown component weight %q", name))
		}
		if math.IsNaN(w) || w < 0 {
			problems = append(problems, fmt.Sprintf("weight %q must be a non-negative number, got %v", name, w))
			continue
		}
		sum += w
	}
	if len(c.Weights) > 0 && math.Abs(sum-1.0) > weightTolerance {
		problems = append(problems, fmt.Sprintf("weights sum to %.4f, must sum to 1.0", sum))
	}

	if !(c.PassThreshold >= 0 && c.PassThreshold <= 100) {
		problems = append(problems, fmt.Sprintf("pass-threshold must be within [0,100], got %v", c.PassThreshold))
	}
	if !(c.FailThreshold >= 0 && c.FailThreshold <= 100) {
		problems = append(problems, fmt.Sprintf("fail-threshold must be within [0,100], got %v", c.FailThreshold))
	}
	if c.FailThreshold >= c.PassThreshold {
		problems = append(problems, fmt.Sprintf("fail-threshold (%v) must be below pass-threshold (%v)", c.FailThreshold, c.PassThreshold))
	}

	if c.StalenessWindow <= 0 {
		problems = append(problems, "staleness-window must be positive")
	}
	if !(c.DivergenceThreshold > 0 && c.DivergenceThreshold <= 1) {
		problems = append(problems, fmt.Sprintf("divergence-threshold must be within (0,1], got %v", c.DivergenceThreshold))
	}
	if !(c.MaxInsufficientFraction >= 0 && c.MaxInsufficientFraction <= 1) {
		problems = append(problems, fmt.Sprintf("max-insufficient-fraction must be within [0,1], got %v", c.MaxInsufficientFraction))
	}
	for _, name := range c.DisabledSafeguards {
		if !slices.Contains(KnownSafeguards, name) {
			problems = append(problems, fmt.Sprintf("unknown safeguard %q", name))
		}
	}

	if c.MinSampleSize < 1 {
		problems = append(problems, "min-sample-size must be at least 1")
	}
	if !(c.HalfLifeYears > 0) {
		problems = append(problems, "half-life-years must be positive")
	}
	if !(c.TooSmallRatio > 0 && c.TooSmallRatio < 1) {
		problems = append(problems, fmt.Sprintf("too-small-ratio must be within (0,1), got %v", c.TooSmallRatio))
	}
	if !(c.SizeDecayWidth > 0) {
		problems = append(problems, "size-decay-width must be positive")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// weightedComponents returns the names of components with a positive weight, in evaluation order.
func (c Config) weightedComponents() []string {
	var names []string
	for _, name := range KnownComponents {
		if c.Weights[name] > 0 {
			names = append(names, name)
		}
	}
	return names
}

func (c Config) clone() Config {
	out := c
	out.Weights = maps.Clone(c.Weights)
	out.DisabledSafeguards = slices.Clone(c.DisabledSafeguards)
	slices.Sort(out.DisabledSafeguards)
	return out
}
