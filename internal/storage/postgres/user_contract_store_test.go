package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/storage/postgres"
)

func TestPostgresUserContractStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	insertTestContract(t, ctx, pool, 1, "mintA")
	store := postgres.NewUserContractStore(pool)

	row := &domain.UserContract{
		ContractID:  1,
		UserAddress: "wallet1",
		Supply:      100,
		SignedAt:    time.Now(),
	}
	require.NoError(t, store.CreateUserContract(ctx, row))

	got, err := store.GetUserContract(ctx, 1, "wallet1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, got.Status)
	require.Equal(t, 100.0, got.Supply)
}

func TestPostgresUserContractStore_DoubleSignRejected(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	insertTestContract(t, ctx, pool, 1, "mintA")
	store := postgres.NewUserContractStore(pool)

	row := &domain.UserContract{ContractID: 1, UserAddress: "wallet1", Supply: 100, SignedAt: time.Now()}
	require.NoError(t, store.CreateUserContract(ctx, row))

	dup := &domain.UserContract{ContractID: 1, UserAddress: "wallet1", Supply: 200, SignedAt: time.Now()}
	err := store.CreateUserContract(ctx, dup)
	require.ErrorIs(t, err, corerr.Conflict)

	got, err := store.GetUserContract(ctx, 1, "wallet1")
	require.NoError(t, err)
	require.Equal(t, 100.0, got.Supply, "duplicate sign must not overwrite the original row")
}

func TestPostgresUserContractStore_StatusTransitionIsOneWay(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	insertTestContract(t, ctx, pool, 1, "mintA")
	store := postgres.NewUserContractStore(pool)
	require.NoError(t, store.CreateUserContract(ctx, &domain.UserContract{
		ContractID: 1, UserAddress: "wallet1", Supply: 100, SignedAt: time.Now(),
	}))

	require.NoError(t, store.UpdateUserContractStatus(ctx, 1, "wallet1", domain.StatusBroken))
	got, err := store.GetUserContract(ctx, 1, "wallet1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusBroken, got.Status)

	require.NoError(t, store.UpdateUserContractStatus(ctx, 1, "wallet1", domain.StatusCompletedCondition1))
	got, err = store.GetUserContract(ctx, 1, "wallet1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusBroken, got.Status, "terminal status must not change")
}

func TestPostgresUserContractStore_BulkUpdateStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	insertTestContract(t, ctx, pool, 1, "mintA")
	store := postgres.NewUserContractStore(pool)
	require.NoError(t, store.CreateUserContract(ctx, &domain.UserContract{
		ContractID: 1, UserAddress: "wallet1", Supply: 100, SignedAt: time.Now(),
	}))
	require.NoError(t, store.CreateUserContract(ctx, &domain.UserContract{
		ContractID: 1, UserAddress: "wallet2", Supply: 100, SignedAt: time.Now(),
	}))
	require.NoError(t, store.UpdateUserContractStatus(ctx, 1, "wallet2", domain.StatusBroken))

	n, err := store.BulkUpdateStatus(ctx, 1, domain.StatusInProgress, domain.StatusCompletedCondition1)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the still-in-progress row should be touched")

	broken, err := store.GetUserContract(ctx, 1, "wallet2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusBroken, broken.Status)
}
