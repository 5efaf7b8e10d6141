package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/storage"
)

// UserStore implements storage.UserStore using PostgreSQL.
type UserStore struct {
	pool *Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool *Pool) *UserStore {
	return &UserStore{pool: pool}
}

var _ storage.UserStore = (*UserStore)(nil)

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.Address, &u.RawScore, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) GetUser(ctx context.Context, addr string) (*domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT address, raw_score, created_at FROM "user" WHERE address = $1`, addr)
	u, err := scanUser(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, corerr.NotFound
		}
		return nil, fmt.Errorf("get user: %w", corerr.Transient)
	}
	return u, nil
}

func (s *UserStore) UpsertUser(ctx context.Context, addr string) (*domain.User, error) {
	query := `
		INSERT INTO "user" (address, raw_score)
		VALUES ($1, 0)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING address, raw_score, created_at
	`
	row := s.pool.QueryRow(ctx, query, addr)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", corerr.Transient)
	}
	return u, nil
}

// UpdateUserScore atomically adds delta to raw_score in a single statement,
// creating the user row first if absent.
func (s *UserStore) UpdateUserScore(ctx context.Context, addr string, delta float64) (*domain.User, error) {
	query := `
		INSERT INTO "user" (address, raw_score)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET raw_score = "user".raw_score + EXCLUDED.raw_score
		RETURNING address, raw_score, created_at
	`
	row := s.pool.QueryRow(ctx, query, addr, delta)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("update user score: %w", corerr.Transient)
	}
	return u, nil
}
