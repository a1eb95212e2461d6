package model

import "time"

// Verdict is the eligibility outcome for a property.
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictWarning Verdict = "WARNING"
	VerdictFail    Verdict = "FAIL"
)

// SoftFailure records one failed soft criterion and its severity weight.
type SoftFailure struct {
	Criterion string  `json:"criterion"`
	Severity  float64 `json:"severity"`
	Note      string  `json:"note,omitempty"`
}

// HardFailure records one failed hard criterion.
type HardFailure struct {
	Criterion string `json:"criterion"`
	Note      string `json:"note,omitempty"`
}

// EligibilityResult is created once per evaluation and never mutated;
// re-evaluation produces a new result and the prior one is archived for
// delta reporting.
type EligibilityResult struct {
	Verdict           Verdict       `json:"verdict"`
	HardFailures      []HardFailure `json:"hard_failures,omitempty"`
	SoftFailures      []SoftFailure `json:"soft_failures,omitempty"`
	SoftSeverityTotal float64       `json:"soft_severity_total"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
}

// HardFailureNames returns the failed hard criterion names in evaluation order.
func (r *EligibilityResult) HardFailureNames() []string {
	if len(r.HardFailures) == 0 {
		return nil
	}
	names := make([]string, len(r.HardFailures))
	for i, hf := range r.HardFailures {
		names[i] = hf.Criterion
	}
	return names
}

// StrategyScore is one strategy's contribution to the score breakdown.
type StrategyScore struct {
	Name           string  `json:"name"`
	Section        string  `json:"section"`
	Raw            float64 `json:"raw"` // 0-10
	Weight         float64 `json:"weight"`
	WeightedPoints float64 `json:"weighted_points"`
	LowConfidence  bool    `json:"low_confidence,omitempty"` // insufficient source data
}

// ScoreBreakdown is a pure function of a PropertyRecord snapshot and a
// weights configuration; re-scoring an unchanged record yields an identical
// breakdown.
type ScoreBreakdown struct {
	SectionScores map[string]float64 `json:"section_scores"`
	Total         float64            `json:"total"`
	Detail        []StrategyScore    `json:"strategy_detail"`
}

// Tier is the ordinal classification derived from the total score.
type Tier string

const (
	TierUnicorn   Tier = "UNICORN"
	TierContender Tier = "CONTENDER"
	TierPass      Tier = "PASS_TIER"
)

// Snapshot is the read-only per-property view handed to rendering and
// reporting collaborators. Always a copy, never live pipeline state.
type Snapshot struct {
	Record      *PropertyRecord    `json:"record"`
	Eligibility *EligibilityResult `json:"eligibility,omitempty"`
	Score       *ScoreBreakdown    `json:"score,omitempty"`
	Tier        Tier               `json:"tier,omitempty"`
}
