package domain

import "time"

// User is the persistent record of a wallet's accumulated score.
// RawScore is the unbounded accumulator the Scoring Engine writes to;
// DisplayScore is always derived from it, never stored.
type User struct {
	Address   string
	RawScore  float64
	CreatedAt time.Time
}
