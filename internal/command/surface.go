// Package command exposes the Supervisor's start/stop/restart/list/health
// operations as a thin, operator-facing adapter that never leaks internal
// error types.
package command

import (
	"context"
	"errors"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/supervisor"
)

// Result is the structured outcome of every Surface operation.
type Result struct {
	OK          bool
	Reason      string
	Snapshot    *domain.Snapshot
	ActiveCount int
}

func ok(snap *domain.Snapshot) Result {
	return Result{OK: true, Reason: "ok", Snapshot: snap}
}

func fail(err error) Result {
	return Result{OK: false, Reason: reasonFor(err)}
}

// reasonFor maps both corerr sentinels and the Supervisor's own sentinel
// errors to the operator-safe reason strings a Result carries.
func reasonFor(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, supervisor.ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, supervisor.ErrNotActive):
		return "not_active"
	case errors.Is(err, supervisor.ErrNoSigners):
		return "no_signers"
	case errors.Is(err, supervisor.ErrDeadlinePassed):
		return "deadline_passed"
	}
	if r := corerr.Reason(err); r != "internal" {
		return r
	}
	return "internal"
}

// Surface wraps a Supervisor and translates its calls into operator Results.
type Surface struct {
	supervisor *supervisor.Supervisor
}

// New builds a Surface over an already-constructed Supervisor.
func New(sup *supervisor.Supervisor) *Surface {
	return &Surface{supervisor: sup}
}

// Start begins tracking a contract's stream.
func (s *Surface) Start(ctx context.Context, contractID int64) Result {
	if err := s.supervisor.Start(ctx, contractID); err != nil {
		return fail(err)
	}
	snap, _ := s.supervisor.Get(contractID)
	return ok(&snap)
}

// Stop tears down a contract's stream.
func (s *Surface) Stop(ctx context.Context, contractID int64) Result {
	if err := s.supervisor.Stop(ctx, contractID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// Restart stops and restarts a contract's stream, resetting its ATH.
func (s *Surface) Restart(ctx context.Context, contractID int64) Result {
	if err := s.supervisor.Restart(ctx, contractID); err != nil {
		return fail(err)
	}
	snap, _ := s.supervisor.Get(contractID)
	return ok(&snap)
}

// List returns every currently active stream.
func (s *Surface) List(ctx context.Context) []domain.Snapshot {
	return s.supervisor.ListActive()
}

// Status reports whether a single contract is active and its snapshot.
func (s *Surface) Status(ctx context.Context, contractID int64) Result {
	snap, active := s.supervisor.Get(contractID)
	if !active {
		return Result{OK: false, Reason: "not_active"}
	}
	return ok(&snap)
}

// Health reports overall liveness: the number of active streams. The
// process is considered healthy as long as it can answer at all; per-stream
// health is visible via Status/List.
func (s *Surface) Health(ctx context.Context) Result {
	active := s.supervisor.ListActive()
	return Result{OK: true, Reason: "ok", ActiveCount: len(active)}
}
