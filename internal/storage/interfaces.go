// Package storage defines the Persistence Port: the narrow set of
// operations the Evaluator and Supervisor depend on for Contracts,
// UserContracts, and Users (§4.C). Concrete adapters live in the memory
// and postgres subpackages; callers depend only on these interfaces so
// tests can substitute in-memory fakes.
package storage

import (
	"context"
	"time"

	"contractcore/internal/domain"
)

// ContractStore provides access to the contract collection.
type ContractStore interface {
	// GetContract retrieves a contract by id. Returns corerr.NotFound if absent.
	GetContract(ctx context.Context, id int64) (*domain.Contract, error)

	// ListPendingContracts returns every contract with is_completed = false,
	// in a stable order suitable for start_all_pending's stagger indexing.
	ListPendingContracts(ctx context.Context) ([]*domain.Contract, error)

	// MarkContractCompleted sets is_completed, completion_reason and
	// completed_at atomically. Returns corerr.Conflict if the contract was
	// already completed (the caller's re-read-before-write race defense).
	MarkContractCompleted(ctx context.Context, id int64, reason domain.CompletionReason, at time.Time) error
}

// UserContractStore provides access to the user_contract collection.
type UserContractStore interface {
	// GetUserContract retrieves one row. Returns corerr.NotFound if absent.
	GetUserContract(ctx context.Context, contractID int64, addr string) (*domain.UserContract, error)

	// ListUserContractsByContract returns every row for a contract.
	ListUserContractsByContract(ctx context.Context, contractID int64) ([]*domain.UserContract, error)

	// CreateUserContract inserts a new row. Returns corerr.Conflict if the
	// (contract_id, user_address) key already exists.
	CreateUserContract(ctx context.Context, row *domain.UserContract) error

	// UpdateUserContractStatus performs a one-way status transition. It is
	// a no-op returning nil if the row is already in a terminal status
	// (status transitions are one-way, P3).
	UpdateUserContractStatus(ctx context.Context, contractID int64, addr string, status domain.UserContractStatus) error

	// BulkUpdateStatus transitions every row currently in `from` to `to`
	// for a given contract, atomically. Rows not currently in `from` are
	// left untouched. Returns the number of rows updated.
	BulkUpdateStatus(ctx context.Context, contractID int64, from, to domain.UserContractStatus) (int, error)
}

// UserStore provides access to the user collection.
type UserStore interface {
	// GetUser retrieves a user by address. Returns corerr.NotFound if absent.
	GetUser(ctx context.Context, addr string) (*domain.User, error)

	// UpsertUser ensures a user row exists for addr, creating one with a
	// zero RawScore if absent. Idempotent.
	UpsertUser(ctx context.Context, addr string) (*domain.User, error)

	// UpdateUserScore atomically adds delta to the user's raw_score and
	// returns the resulting row.
	UpdateUserScore(ctx context.Context, addr string, delta float64) (*domain.User, error)
}
