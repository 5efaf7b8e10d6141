package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/storage"
)

// UserContractStore implements storage.UserContractStore using PostgreSQL.
type UserContractStore struct {
	pool *Pool
}

// NewUserContractStore creates a new UserContractStore.
func NewUserContractStore(pool *Pool) *UserContractStore {
	return &UserContractStore{pool: pool}
}

var _ storage.UserContractStore = (*UserContractStore)(nil)

func scanUserContract(row pgx.Row) (*domain.UserContract, error) {
	var uc domain.UserContract
	var status int
	if err := row.Scan(&uc.ContractID, &uc.UserAddress, &uc.Supply, &status, &uc.SignedAt); err != nil {
		return nil, err
	}
	uc.Status = domain.UserContractStatus(status)
	return &uc, nil
}

func (s *UserContractStore) GetUserContract(ctx context.Context, contractID int64, addr string) (*domain.UserContract, error) {
	query := `
		SELECT contract_id, user_address, supply, status, signed_at
		FROM user_contract
		WHERE contract_id = $1 AND user_address = $2
	`
	row := s.pool.QueryRow(ctx, query, contractID, addr)
	uc, err := scanUserContract(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, corerr.NotFound
		}
		return nil, fmt.Errorf("get user contract: %w", corerr.Transient)
	}
	return uc, nil
}

func (s *UserContractStore) ListUserContractsByContract(ctx context.Context, contractID int64) ([]*domain.UserContract, error) {
	query := `
		SELECT contract_id, user_address, supply, status, signed_at
		FROM user_contract
		WHERE contract_id = $1
		ORDER BY signed_at ASC
	`
	rows, err := s.pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("list user contracts: %w", corerr.Transient)
	}
	defer rows.Close()

	var result []*domain.UserContract
	for rows.Next() {
		uc, err := scanUserContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user contract: %w", corerr.Transient)
		}
		result = append(result, uc)
	}
	return result, rows.Err()
}

func (s *UserContractStore) CreateUserContract(ctx context.Context, row *domain.UserContract) error {
	if row == nil || row.UserAddress == "" || row.Supply <= 0 {
		return corerr.InvalidInput
	}

	query := `
		INSERT INTO user_contract (contract_id, user_address, supply, status, signed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query, row.ContractID, row.UserAddress, row.Supply, int(domain.StatusInProgress), row.SignedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return corerr.Conflict
		}
		return fmt.Errorf("create user contract: %w", corerr.Transient)
	}
	return nil
}

// UpdateUserContractStatus performs a one-way status transition, guarded in
// SQL by requiring the current status to be InProgress (P3).
func (s *UserContractStore) UpdateUserContractStatus(ctx context.Context, contractID int64, addr string, status domain.UserContractStatus) error {
	query := `
		UPDATE user_contract
		SET status = $3
		WHERE contract_id = $1 AND user_address = $2 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, contractID, addr, int(status), int(domain.StatusInProgress))
	if err != nil {
		return fmt.Errorf("update user contract status: %w", corerr.Transient)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUserContract(ctx, contractID, addr); err != nil {
			return err
		}
		return nil // already terminal: one-way transition, no-op
	}
	return nil
}

func (s *UserContractStore) BulkUpdateStatus(ctx context.Context, contractID int64, from, to domain.UserContractStatus) (int, error) {
	query := `
		UPDATE user_contract
		SET status = $3
		WHERE contract_id = $1 AND status = $2
	`
	tag, err := s.pool.Exec(ctx, query, contractID, int(from), int(to))
	if err != nil {
		return 0, fmt.Errorf("bulk update status: %w", corerr.Transient)
	}
	return int(tag.RowsAffected()), nil
}
