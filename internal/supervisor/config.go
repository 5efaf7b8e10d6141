package supervisor

import "time"

// Config tunes retry, timeout, and stagger behaviour.
type Config struct {
	// MaxStartRetries bounds exponential backoff on a failed start.
	MaxStartRetries int
	// BaseRetryDelay is the first delay in the start-retry backoff.
	BaseRetryDelay time.Duration
	// OpTimeout bounds every individual Persistence/Oracle call the
	// Supervisor itself issues (as opposed to the Evaluator's own calls).
	OpTimeout time.Duration
	// StaggerBase and StaggerMax bound the start_all_pending stagger:
	// delay(index) = min(StaggerBase * index, StaggerMax).
	StaggerBase time.Duration
	StaggerMax  time.Duration
	// StopGrace bounds how long stop() waits for the Evaluator task to
	// reach Stopped before the registry entry is forcibly removed.
	StopGrace time.Duration
	// RestartGap is the minimum pause between stop and start on restart.
	RestartGap time.Duration
}

// DefaultConfig matches the documented defaults in §6/§4.E.
func DefaultConfig() Config {
	return Config{
		MaxStartRetries: 5,
		BaseRetryDelay:  1 * time.Second,
		OpTimeout:       5 * time.Second,
		StaggerBase:     100 * time.Millisecond,
		StaggerMax:      10 * time.Second,
		StopGrace:       2 * time.Second,
		RestartGap:      1 * time.Second,
	}
}
