// Package scoring implements the weighted multi-strategy quality score and
// the tier classifier.
package scoring

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// MaxTotal is the documented maximum total score. Strategy weights across all
// sections must sum to exactly this value.
const MaxTotal = 100.0

// Section names.
const (
	SectionLocation = "location" // A: Location & Neighborhood
	SectionSystems  = "systems"  // B: Lot & Systems
	SectionInterior = "interior" // C: Interior & Livability
)

// SectionNames lists sections in canonical order.
var SectionNames = []string{SectionLocation, SectionSystems, SectionInterior}

// WeightsConfig assigns a weight to each named strategy. A strategy's
// contribution to its section is raw_0_10 * weight / 10, so the weight is
// also the strategy's maximum contribution.
type WeightsConfig struct {
	Weights map[string]float64 `yaml:"weights"`
}

// DefaultWeights returns the shipped weight set. Sums to MaxTotal.
func DefaultWeights() WeightsConfig {
	return WeightsConfig{Weights: map[string]float64{
		// A: Location & Neighborhood (35)
		"school_quality": 10,
		"commute":        8,
		"crime":          9,
		"flood_risk":     8,
		// B: Lot & Systems (35)
		"lot_size":       8,
		"orientation":    6,
		"roof_condition": 7,
		"hvac_condition": 7,
		"garage":         7,
		// C: Interior & Livability (30)
		"interior_visual": 8,
		"kitchen_visual":  8,
		"curb_appeal":     7,
		"backyard_visual": 7,
	}}
}

// LoadWeightsFile reads and validates a weights file.
func LoadWeightsFile(path string) (WeightsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WeightsConfig{}, eris.Wrapf(err, "scoring: read weights file %s", path)
	}
	var cfg WeightsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WeightsConfig{}, eris.Wrapf(err, "scoring: parse weights file %s", path)
	}
	if err := ValidateWeights(cfg); err != nil {
		return WeightsConfig{}, err
	}
	return cfg, nil
}

// ValidateWeights checks the weight set against the strategy registry.
// Scoring refuses to run on an invalid set rather than produce a
// silently-wrong score.
func ValidateWeights(cfg WeightsConfig) error {
	var errs []string

	known := make(map[string]bool, len(registry))
	for _, s := range registry {
		known[s.name] = true
		if _, ok := cfg.Weights[s.name]; !ok {
			errs = append(errs, fmt.Sprintf("missing weight for strategy %q", s.name))
		}
	}
	for name, w := range cfg.Weights {
		if !known[name] {
			errs = append(errs, fmt.Sprintf("unknown strategy %q", name))
		}
		if w < 0 {
			errs = append(errs, fmt.Sprintf("strategy %q: weight must be >= 0, got %.2f", name, w))
		}
	}

	var sum float64
	for _, w := range cfg.Weights {
		sum += w
	}
	if math.Abs(sum-MaxTotal) > 1e-9 {
		errs = append(errs, fmt.Sprintf("weights must sum to %.0f, got %.2f", MaxTotal, sum))
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TierThresholds maps score totals to tiers. Boundaries: total >= Upper is
// UNICORN; Lower <= total < Upper is CONTENDER; below Lower is PASS_TIER.
type TierThresholds struct {
	Upper float64 `yaml:"upper" mapstructure:"upper"`
	Lower float64 `yaml:"lower" mapstructure:"lower"`
}

// DefaultTiers returns the shipped tier thresholds.
func DefaultTiers() TierThresholds {
	return TierThresholds{Upper: 80, Lower: 60}
}

// ValidateTiers checks tier thresholds.
func ValidateTiers(t TierThresholds) error {
	var errs []string
	if t.Upper <= 0 || t.Upper > MaxTotal {
		errs = append(errs, fmt.Sprintf("upper must be in (0, %.0f], got %.2f", MaxTotal, t.Upper))
	}
	if t.Lower <= 0 || t.Lower >= t.Upper {
		errs = append(errs, fmt.Sprintf("lower must be in (0, upper), got lower=%.2f upper=%.2f", t.Lower, t.Upper))
	}
	if len(errs) > 0 {
		return eris.Errorf("scoring: tier validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
