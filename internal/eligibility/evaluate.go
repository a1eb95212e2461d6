package eligibility

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

const noteUnknown = "value unknown"

// Evaluator applies a criteria configuration to property records.
type Evaluator struct {
	cfg Config
	now func() time.Time
}

// NewEvaluator creates an evaluator. The configuration is injected, never
// read from ambient state, so unit tests can supply their own criteria.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow fixes the evaluation timestamp for tests.
func (e *Evaluator) WithNow(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate applies all criteria to a record. Every hard criterion is checked
// and every failure reported, even after the verdict has already collapsed to
// FAIL; explainability requires the complete failure list. Soft criteria run
// only when all hard criteria pass. Given identical record and config the
// result is identical apart from EvaluatedAt.
func (e *Evaluator) Evaluate(record *model.PropertyRecord) model.EligibilityResult {
	result := model.EligibilityResult{
		Verdict:     model.VerdictPass,
		EvaluatedAt: e.now(),
	}

	for _, c := range e.cfg.Criteria {
		if c.Kind != KindHard {
			continue
		}
		pass, note := e.check(record, c)
		if !pass {
			result.HardFailures = append(result.HardFailures, model.HardFailure{
				Criterion: c.Name,
				Note:      note,
			})
		}
	}

	if len(result.HardFailures) > 0 {
		result.Verdict = model.VerdictFail
		zap.L().Info("eligibility: hard fail",
			zap.String("address", record.Normalized),
			zap.Strings("criteria", result.HardFailureNames()),
		)
		return result
	}

	for _, c := range e.cfg.Criteria {
		if c.Kind != KindSoft {
			continue
		}
		pass, note := e.check(record, c)
		if !pass {
			result.SoftFailures = append(result.SoftFailures, model.SoftFailure{
				Criterion: c.Name,
				Severity:  c.Severity,
				Note:      note,
			})
			result.SoftSeverityTotal += c.Severity
		}
	}

	switch {
	case result.SoftSeverityTotal >= e.cfg.FailAt:
		result.Verdict = model.VerdictFail
	case result.SoftSeverityTotal >= e.cfg.WarnAt:
		result.Verdict = model.VerdictWarning
	}

	return result
}

// check evaluates a single criterion against the record. An unknown required
// field is a failure, never a pass-by-default, and the note says so.
func (e *Evaluator) check(record *model.PropertyRecord, c Criterion) (pass bool, note string) {
	switch c.Op {
	case OpEQ, OpNEQ, OpContains:
		if c.Value != "" {
			s, ok := record.String(c.Field)
			if !ok {
				return false, noteUnknown
			}
			return compareString(s, c.Op, c.Value), ""
		}
		fallthrough
	default:
		v, ok := record.Float(c.Field)
		if !ok {
			return false, noteUnknown
		}
		return compareFloat(v, c.Op, c.Threshold), ""
	}
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case OpGTE:
		return v >= threshold
	case OpGT:
		return v > threshold
	case OpLTE:
		return v <= threshold
	case OpLT:
		return v < threshold
	case OpEQ:
		return v == threshold
	case OpNEQ:
		return v != threshold
	}
	return false
}

func compareString(v, op, want string) bool {
	switch op {
	case OpEQ:
		return strings.EqualFold(v, want)
	case OpNEQ:
		return !strings.EqualFold(v, want)
	case OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(want))
	}
	return false
}
