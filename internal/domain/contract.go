package domain

import "time"

// CompletionReason identifies why a Contract's is_completed flag was set.
type CompletionReason string

const (
	// ReasonMarketCap is set when C1 (market-cap USD threshold) fires first.
	ReasonMarketCap CompletionReason = "market_cap"
	// ReasonTimeExpired is set when C2 (wall-clock deadline) fires first.
	ReasonTimeExpired CompletionReason = "time_expired"
	// ReasonAllBroken is set when every signer has broken before either
	// condition fires. Distinct from ReasonManual per the resolved
	// all-broken-reason question.
	ReasonAllBroken CompletionReason = "all_broken"
	// ReasonManual is set by an explicit operator or host-layer completion,
	// never written internally by the Evaluator.
	ReasonManual CompletionReason = "manual"
)

// Contract is the persistent record of a single staked commitment.
// Corresponds to the `contract` table.
type Contract struct {
	ID               int64
	Mint             string
	Condition1       float64 // USD market-cap target
	Condition2       time.Time
	IsCompleted      bool
	CompletionReason CompletionReason // empty until completion
	CompletedAt      time.Time        // zero until completion
	CreatedAt        time.Time
}

// Pending reports whether the contract is still open for evaluation.
func (c *Contract) Pending() bool {
	return c != nil && !c.IsCompleted
}
