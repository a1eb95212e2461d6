// Package eligibility implements the kill-switch filter: hard criteria that
// disqualify a property outright and soft criteria that accumulate severity.
package eligibility

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Criterion kinds.
const (
	KindHard = "hard"
	KindSoft = "soft"
)

// Comparison operators.
const (
	OpGTE      = "gte"
	OpGT       = "gt"
	OpLTE      = "lte"
	OpLT       = "lt"
	OpEQ       = "eq"
	OpNEQ      = "neq"
	OpContains = "contains"
)

var validOps = map[string]bool{
	OpGTE: true, OpGT: true, OpLTE: true, OpLT: true,
	OpEQ: true, OpNEQ: true, OpContains: true,
}

// Criterion is one eligibility rule read from the criteria file.
type Criterion struct {
	Name      string  `yaml:"name"`
	Field     string  `yaml:"field"`
	Kind      string  `yaml:"kind"` // hard | soft
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold,omitempty"` // numeric comparisons
	Value     string  `yaml:"value,omitempty"`     // string comparisons
	Severity  float64 `yaml:"severity,omitempty"`  // soft criteria only
}

// Config is the full eligibility configuration. Hard criteria are evaluated
// in file order; soft severities accumulate against the verdict thresholds.
type Config struct {
	// FailAt: soft_severity_total >= FailAt => FAIL. Default 3.0.
	FailAt float64 `yaml:"fail_at"`
	// WarnAt: soft_severity_total >= WarnAt => WARNING. Default 1.5.
	WarnAt   float64     `yaml:"warn_at"`
	Criteria []Criterion `yaml:"criteria"`
}

// Default returns the shipped criteria set. Every criterion is hard; marking
// a criterion soft is a configuration-time decision, not a code-time one.
func Default() Config {
	return Config{
		FailAt: 3.0,
		WarnAt: 1.5,
		Criteria: []Criterion{
			{Name: "beds", Field: "beds", Kind: KindHard, Op: OpGTE, Threshold: 4},
			{Name: "baths", Field: "baths", Kind: KindHard, Op: OpGTE, Threshold: 2},
			{Name: "price", Field: "price", Kind: KindHard, Op: OpLTE, Threshold: 600000},
			{Name: "no_hoa", Field: "hoa_monthly", Kind: KindHard, Op: OpEQ, Threshold: 0},
			{Name: "city_sewer", Field: "sewer_type", Kind: KindHard, Op: OpEQ, Value: "city"},
		},
	}
}

// LoadFile reads and validates a criteria file. Invalid configuration blocks
// startup; the error names the offending criterion and constraint.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "eligibility: read criteria file %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, eris.Wrapf(err, "eligibility: parse criteria file %s", path)
	}
	if cfg.FailAt == 0 {
		cfg.FailAt = 3.0
	}
	if cfg.WarnAt == 0 {
		cfg.WarnAt = 1.5
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a criteria configuration. The system never runs with a
// half-valid configuration.
func Validate(cfg Config) error {
	var errs []string

	if cfg.FailAt <= 0 {
		errs = append(errs, "fail_at must be > 0")
	}
	if cfg.WarnAt <= 0 || cfg.WarnAt >= cfg.FailAt {
		errs = append(errs, fmt.Sprintf("warn_at must be in (0, fail_at): got warn_at=%.2f fail_at=%.2f", cfg.WarnAt, cfg.FailAt))
	}
	if len(cfg.Criteria) == 0 {
		errs = append(errs, "at least one criterion is required")
	}

	seen := make(map[string]bool, len(cfg.Criteria))
	for i, c := range cfg.Criteria {
		where := fmt.Sprintf("criteria[%d]", i)
		if c.Name != "" {
			where = fmt.Sprintf("criterion %q", c.Name)
		}
		if c.Name == "" {
			errs = append(errs, where+": name is required")
		} else if seen[c.Name] {
			errs = append(errs, where+": duplicate name")
		}
		seen[c.Name] = true

		if c.Field == "" {
			errs = append(errs, where+": field is required")
		}
		if c.Kind != KindHard && c.Kind != KindSoft {
			errs = append(errs, fmt.Sprintf("%s: kind must be %q or %q, got %q", where, KindHard, KindSoft, c.Kind))
		}
		if !validOps[c.Op] {
			errs = append(errs, fmt.Sprintf("%s: unknown operator %q", where, c.Op))
		}
		if (c.Op == OpContains) && c.Value == "" {
			errs = append(errs, where+": contains requires a value")
		}
		if c.Kind == KindSoft && c.Severity <= 0 {
			errs = append(errs, where+": soft criterion requires severity > 0")
		}
		if c.Kind == KindHard && c.Severity != 0 {
			errs = append(errs, where+": hard criterion must not set severity")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("eligibility: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
