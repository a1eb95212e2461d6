package scoring

import (
	"math"

	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

// Scorer computes score breakdowns from validated weights. Construct with
// New, which rejects invalid weight sets up front.
type Scorer struct {
	weights WeightsConfig
}

// New creates a Scorer, validating the weight set first. Scoring never runs
// with weights that do not sum to the documented maximum.
func New(weights WeightsConfig) (*Scorer, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights}, nil
}

// Score computes the full breakdown for a record snapshot. Pure function of
// the record and the weights: re-scoring an unchanged record yields an
// identical breakdown, which is the basis for the what-if rescore command.
func (s *Scorer) Score(record *model.PropertyRecord) model.ScoreBreakdown {
	breakdown := model.ScoreBreakdown{
		SectionScores: make(map[string]float64, len(SectionNames)),
		Detail:        make([]model.StrategyScore, 0, len(registry)),
	}
	for _, name := range SectionNames {
		breakdown.SectionScores[name] = 0
	}

	lowCount := 0
	for _, st := range registry {
		raw, low := st.score(record)
		weight := s.weights.Weights[st.name]
		points := round2(raw * weight / 10)

		breakdown.Detail = append(breakdown.Detail, model.StrategyScore{
			Name:           st.name,
			Section:        st.section,
			Raw:            round2(raw),
			Weight:         weight,
			WeightedPoints: points,
			LowConfidence:  low,
		})
		breakdown.SectionScores[st.section] = round2(breakdown.SectionScores[st.section] + points)
		if low {
			lowCount++
		}
	}

	var total float64
	for _, name := range SectionNames {
		total += breakdown.SectionScores[name]
	}
	breakdown.Total = round2(total)

	zap.L().Debug("scoring: breakdown computed",
		zap.String("address", record.Normalized),
		zap.Float64("total", breakdown.Total),
		zap.Int("low_confidence", lowCount),
	)
	return breakdown
}

// Classify maps a total score to a tier. A total exactly equal to the upper
// threshold is the top tier; one unit below is not.
func Classify(total float64, t TierThresholds) model.Tier {
	switch {
	case total >= t.Upper:
		return model.TierUnicorn
	case total >= t.Lower:
		return model.TierContender
	default:
		return model.TierPass
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
