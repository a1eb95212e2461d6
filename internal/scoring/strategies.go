package scoring

import (
	"math"
	"strings"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

// strategy is one named scoring rule: a deterministic mapping from record
// fields to a raw 0-10 sub-score. low is true when the strategy had
// insufficient source data and fell back to its neutral default.
type strategy struct {
	name    string
	section string
	score   func(r *model.PropertyRecord) (raw float64, low bool)
}

// registry is the fixed, ordered strategy set. Order determines the order of
// entries in ScoreBreakdown.Detail.
var registry = []strategy{
	// A: Location & Neighborhood
	{"school_quality", SectionLocation, scoreSchoolQuality},
	{"commute", SectionLocation, scoreCommute},
	{"crime", SectionLocation, scoreCrime},
	{"flood_risk", SectionLocation, scoreFloodRisk},
	// B: Lot & Systems
	{"lot_size", SectionSystems, scoreLotSize},
	{"orientation", SectionSystems, scoreOrientation},
	{"roof_condition", SectionSystems, scoreRoofCondition},
	{"hvac_condition", SectionSystems, scoreHVACCondition},
	{"garage", SectionSystems, scoreGarage},
	// C: Interior & Livability
	{"interior_visual", SectionInterior, visualStrategy("interior_visual")},
	{"kitchen_visual", SectionInterior, visualStrategy("kitchen_visual")},
	{"curb_appeal", SectionInterior, visualStrategy("curb_appeal_visual")},
	{"backyard_visual", SectionInterior, visualStrategy("backyard_visual")},
}

const neutral = 5.0

// scoreSchoolQuality passes the 0-10 assigned-school rating through directly.
func scoreSchoolQuality(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("school_rating")
	if !ok {
		return neutral, true
	}
	return clamp10(v), false
}

// scoreCommute bands drive-time minutes to downtown Phoenix.
func scoreCommute(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("commute_minutes")
	if !ok {
		return neutral, true
	}
	switch {
	case v <= 15:
		return 10, false
	case v <= 25:
		return 8, false
	case v <= 35:
		return 6, false
	case v <= 45:
		return 4, false
	case v <= 60:
		return 2, false
	default:
		return 0, false
	}
}

// scoreCrime inverts a 0-100 crime index (lower index is better).
func scoreCrime(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("crime_index")
	if !ok {
		return neutral, true
	}
	return clamp10(10 - v/10), false
}

// scoreFloodRisk is a categorical lookup on the FEMA flood zone.
func scoreFloodRisk(r *model.PropertyRecord) (float64, bool) {
	zone, ok := r.String("flood_zone")
	if !ok {
		return neutral, true
	}
	switch strings.ToUpper(strings.TrimSpace(zone)) {
	case "X":
		return 10, false
	case "SHADED X", "X500":
		return 7, false
	case "D":
		return 4, false
	case "A", "AE", "AH", "AO":
		return 1, false
	default:
		return 3, false
	}
}

// scoreLotSize interpolates linearly: 6,000 sqft scores 4, 14,000+ scores 10,
// smaller lots scale down to 0.
func scoreLotSize(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("lot_sqft")
	if !ok {
		return neutral, true
	}
	switch {
	case v >= 14000:
		return 10, false
	case v >= 6000:
		return 4 + 6*(v-6000)/8000, false
	case v > 0:
		return 4 * v / 6000, false
	default:
		return 0, false
	}
}

// scoreOrientation is a categorical lookup; in Phoenix a north-facing
// backyard takes the least summer sun.
func scoreOrientation(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.String("orientation")
	if !ok {
		return neutral, true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "north":
		return 10, false
	case "south":
		return 8, false
	case "east":
		return 6, false
	case "west":
		return 3, false
	default:
		return neutral, false
	}
}

// scoreRoofCondition decays linearly from 10 at age 5 to 0 at age 25.
// Unknown roof age is risk-tilted rather than neutral.
func scoreRoofCondition(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("roof_age_years")
	if !ok {
		return 4, true
	}
	return ageDecay(v, 5, 25), false
}

// scoreHVACCondition decays linearly from 10 at age 5 to 0 at age 20.
func scoreHVACCondition(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("hvac_age_years")
	if !ok {
		return 4, true
	}
	return ageDecay(v, 5, 20), false
}

// scoreGarage bands covered parking. This strategy explicitly defines
// no data as worst case: a listing that never mentions a garage has none.
func scoreGarage(r *model.PropertyRecord) (float64, bool) {
	v, ok := r.Float("garage_spaces")
	if !ok {
		return 0, true
	}
	switch {
	case v >= 3:
		return 10, false
	case v >= 2:
		return 7, false
	case v >= 1:
		return 4, false
	default:
		return 0, false
	}
}

// visualStrategy passes through a 0-10 visual sub-score produced by the
// visual-assessment collaborator (a black box at this boundary).
func visualStrategy(field string) func(r *model.PropertyRecord) (float64, bool) {
	return func(r *model.PropertyRecord) (float64, bool) {
		v, ok := r.Float(field)
		if !ok {
			return neutral, true
		}
		return clamp10(v), false
	}
}

func ageDecay(age, fullUntil, zeroAt float64) float64 {
	if age <= fullUntil {
		return 10
	}
	if age >= zeroAt {
		return 0
	}
	return 10 * (zeroAt - age) / (zeroAt - fullUntil)
}

func clamp10(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}
