// Package scoring computes per-user score deltas at contract close. Every
// function here is pure: no I/O, no clock reads beyond what the caller
// passes in, safe to call from any goroutine.
package scoring

import (
	"math"
	"time"
)

// Tunable constants, stated as defaults per §4.F.
const (
	MaxBuyAmountForBonus  = 30_000_000.0
	PenaltyMultiplier     = 2.0
	BaseScoreMultiplier   = 0.000003
	AsymptoteLimit        = 1_000_000.0
	AsymptoteScalingFactor = 1_000_000.0

	C2MinScore  = 0.0
	C2WeekScore = 1.0
	C2MaxScore  = 25.0

	C2WeekThresholdDays = 7.0
	C2MaxThresholdDays  = 180.0
)

// TrueCondition identifies which condition closed the contract.
type TrueCondition int

const (
	ConditionMarketCap TrueCondition = 1
	ConditionDeadline  TrueCondition = 2
)

// Event carries everything the engine needs to score one terminal user
// transition.
type Event struct {
	ContractRespected  bool
	BuyAmount          float64
	DiffWithCondition  float64
	TrueCondition      TrueCondition
	SignedAt           time.Time
}

// Result is the outcome of Apply: a raw delta suitable for accumulation via
// Persistence, and the display score that delta produces on top of the
// user's current raw total.
type Result struct {
	RawDelta     float64
	DisplayScore float64
}

// Apply computes the score delta for one terminal transition and the
// resulting display score given the user's raw total after the delta is
// applied. now is the evaluation instant used to age SignedAt for C2
// scoring; callers pass it explicitly to keep this function pure.
func Apply(event Event, now time.Time, rawTotalAfterDelta float64) Result {
	var delta float64
	if event.TrueCondition == ConditionDeadline {
		delta = c2Score(event.SignedAt, now)
	} else {
		capped := math.Min(math.Max(0, event.BuyAmount), MaxBuyAmountForBonus)
		base := capped * BaseScoreMultiplier
		mult := 1 + event.DiffWithCondition/100
		unsigned := base * mult
		if event.ContractRespected {
			delta = unsigned
		} else {
			delta = -PenaltyMultiplier * unsigned
		}
	}

	return Result{
		RawDelta:     delta,
		DisplayScore: DisplayScore(rawTotalAfterDelta),
	}
}

// DisplayScore maps an unbounded raw score onto a bounded, monotone display
// value that saturates near ±AsymptoteLimit.
func DisplayScore(raw float64) float64 {
	return math.Tanh(raw/AsymptoteScalingFactor) * AsymptoteLimit
}

// c2Score is the piecewise age-based score used when the deadline (C2)
// closed the contract: 0 below a week, 1 at a week, 25 at or beyond 180
// days, linearly interpolated in between.
func c2Score(signedAt, now time.Time) float64 {
	ageDays := now.Sub(signedAt).Hours() / 24

	switch {
	case ageDays < C2WeekThresholdDays:
		return C2MinScore
	case ageDays >= C2MaxThresholdDays:
		return C2MaxScore
	default:
		frac := (ageDays - C2WeekThresholdDays) / (C2MaxThresholdDays - C2WeekThresholdDays)
		return C2WeekScore + frac*(C2MaxScore-C2WeekScore)
	}
}
