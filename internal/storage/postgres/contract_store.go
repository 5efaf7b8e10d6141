package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/storage"
)

// ContractStore implements storage.ContractStore using PostgreSQL.
type ContractStore struct {
	pool *Pool
}

// NewContractStore creates a new ContractStore.
func NewContractStore(pool *Pool) *ContractStore {
	return &ContractStore{pool: pool}
}

var _ storage.ContractStore = (*ContractStore)(nil)

func scanContract(row pgx.Row) (*domain.Contract, error) {
	var (
		c      domain.Contract
		reason *string
		compAt *time.Time
	)
	err := row.Scan(&c.ID, &c.Mint, &c.Condition1, &c.Condition2, &c.IsCompleted, &reason, &compAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		c.CompletionReason = domain.CompletionReason(*reason)
	}
	if compAt != nil {
		c.CompletedAt = *compAt
	}
	return &c, nil
}

// GetContract retrieves a contract by id.
func (s *ContractStore) GetContract(ctx context.Context, id int64) (*domain.Contract, error) {
	query := `
		SELECT id, mint, condition1, condition2, is_completed, completion_reason, completed_at, created_at
		FROM contract
		WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, query, id)
	c, err := scanContract(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, corerr.NotFound
		}
		return nil, fmt.Errorf("get contract: %w", corerr.Transient)
	}
	return c, nil
}

// ListPendingContracts returns every uncompleted contract, oldest first.
func (s *ContractStore) ListPendingContracts(ctx context.Context) ([]*domain.Contract, error) {
	query := `
		SELECT id, mint, condition1, condition2, is_completed, completion_reason, completed_at, created_at
		FROM contract
		WHERE is_completed = false
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending contracts: %w", corerr.Transient)
	}
	defer rows.Close()

	var result []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending contract: %w", corerr.Transient)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// MarkContractCompleted sets completion fields atomically, guarding against
// a contract that is already completed (P2 terminal stickiness).
func (s *ContractStore) MarkContractCompleted(ctx context.Context, id int64, reason domain.CompletionReason, at time.Time) error {
	query := `
		UPDATE contract
		SET is_completed = true, completion_reason = $2, completed_at = $3
		WHERE id = $1 AND is_completed = false
	`
	tag, err := s.pool.Exec(ctx, query, id, string(reason), at)
	if err != nil {
		return fmt.Errorf("mark contract completed: %w", corerr.Transient)
	}
	if tag.RowsAffected() == 0 {
		// Either the row does not exist, or it was already completed.
		if _, err := s.GetContract(ctx, id); err != nil {
			return err
		}
		return corerr.Conflict
	}
	return nil
}
