package domain

import "time"

// StreamState is the Evaluator's per-mint state machine position.
type StreamState int

const (
	StreamRunning StreamState = iota
	StreamCompletedC1
	StreamCompletedC2
	StreamCompletedAllBroken
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamRunning:
		return "Running"
	case StreamCompletedC1:
		return "Completed_C1"
	case StreamCompletedC2:
		return "Completed_C2"
	case StreamCompletedAllBroken:
		return "Completed_AllBroken"
	case StreamStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state machine has reached a final position.
func (s StreamState) Terminal() bool {
	return s != StreamRunning
}

// ActiveStream is the in-memory record of a single Contract's live
// evaluation. It is owned exclusively by the Evaluator task running it; the
// Supervisor only reads a snapshot copy for its registry views.
type ActiveStream struct {
	ContractID     int64
	Mint           string
	StartedAt      time.Time
	Signers        map[string]struct{}
	Condition1     float64
	Condition2     time.Time
	AthMarketCapSol float64
	State          StreamState
}

// Snapshot returns a shallow, safe-to-share copy of the stream's observable
// fields for read-only registry views (§4.E list_active/get).
type Snapshot struct {
	ContractID      int64
	Mint            string
	StartedAt       time.Time
	SignerCount     int
	Condition1      float64
	Condition2      time.Time
	AthMarketCapSol float64
	State           StreamState
}

// Snapshot builds a Snapshot from the live stream. Callers must hold
// whatever lock protects concurrent access to the stream before calling.
func (a *ActiveStream) Snapshot() Snapshot {
	return Snapshot{
		ContractID:      a.ContractID,
		Mint:            a.Mint,
		StartedAt:       a.StartedAt,
		SignerCount:     len(a.Signers),
		Condition1:      a.Condition1,
		Condition2:      a.Condition2,
		AthMarketCapSol: a.AthMarketCapSol,
		State:           a.State,
	}
}
