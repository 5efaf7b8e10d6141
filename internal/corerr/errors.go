// Package corerr defines the error taxonomy shared across the core: every
// component surfaces one of these kinds so that user-visible messages can be
// derived from the kind alone, never from inner error text (§7).
package corerr

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", Kind) at the point
// of failure and unwrap with errors.Is at the boundary that needs to branch
// on kind.
var (
	// NotFound is returned when a requested record does not exist.
	NotFound = errors.New("not found")

	// Conflict is returned on a duplicate-key write, e.g. double-sign.
	Conflict = errors.New("conflict: already exists")

	// InvalidInput is returned when caller-supplied data fails validation.
	InvalidInput = errors.New("invalid input")

	// Transient is returned for retryable infrastructure failures
	// (network blips, connection pool exhaustion, oracle timeouts).
	Transient = errors.New("transient failure")

	// Fatal is returned for failures that make continued operation of the
	// calling stream (not the whole process) unsafe.
	Fatal = errors.New("fatal failure")

	// Unauthorised is returned when an operator command is rejected for
	// lack of authority. Reserved for hosts that layer authz on top of the
	// Command Surface; the core itself never produces it today.
	Unauthorised = errors.New("unauthorised")
)

// Reason renders a sentinel kind as the operator-safe string a Command
// Surface result carries — never the wrapped, infrastructure-specific text.
func Reason(err error) string {
	switch {
	case errors.Is(err, NotFound):
		return "not_found"
	case errors.Is(err, Conflict):
		return "conflict"
	case errors.Is(err, InvalidInput):
		return "invalid_input"
	case errors.Is(err, Transient):
		return "transient"
	case errors.Is(err, Fatal):
		return "fatal"
	case errors.Is(err, Unauthorised):
		return "unauthorised"
	case err == nil:
		return "ok"
	default:
		return "internal"
	}
}
