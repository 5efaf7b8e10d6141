package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
)

func TestContractStore_GetAndList(t *testing.T) {
	store := NewContractStore()
	ctx := context.Background()

	store.Seed(&domain.Contract{ID: 1, Mint: "M1", Condition1: 1000, Condition2: time.Now().Add(time.Hour)})
	store.Seed(&domain.Contract{ID: 2, Mint: "M2", Condition1: 2000, Condition2: time.Now().Add(time.Hour)})

	got, err := store.GetContract(ctx, 1)
	if err != nil {
		t.Fatalf("GetContract failed: %v", err)
	}
	if got.Mint != "M1" {
		t.Errorf("Mint mismatch: got %s, want M1", got.Mint)
	}

	pending, err := store.ListPendingContracts(ctx)
	if err != nil {
		t.Fatalf("ListPendingContracts failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending contracts, got %d", len(pending))
	}
	if pending[0].ID != 1 || pending[1].ID != 2 {
		t.Errorf("expected insertion order [1,2], got [%d,%d]", pending[0].ID, pending[1].ID)
	}
}

func TestContractStore_NotFound(t *testing.T) {
	store := NewContractStore()
	_, err := store.GetContract(context.Background(), 99)
	if !errors.Is(err, corerr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestContractStore_MarkCompleted_TerminalStickiness(t *testing.T) {
	store := NewContractStore()
	ctx := context.Background()
	store.Seed(&domain.Contract{ID: 1, Mint: "M1"})

	at := time.Now().UTC()
	if err := store.MarkContractCompleted(ctx, 1, domain.ReasonMarketCap, at); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}

	got, _ := store.GetContract(ctx, 1)
	if !got.IsCompleted || got.CompletionReason != domain.ReasonMarketCap {
		t.Errorf("completion not recorded: %+v", got)
	}
	if !got.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt mismatch: got %v want %v", got.CompletedAt, at)
	}

	// P2: once completed, no further writes take effect.
	err := store.MarkContractCompleted(ctx, 1, domain.ReasonTimeExpired, time.Now())
	if !errors.Is(err, corerr.Conflict) {
		t.Errorf("expected Conflict on double completion, got %v", err)
	}
	got, _ = store.GetContract(ctx, 1)
	if got.CompletionReason != domain.ReasonMarketCap {
		t.Errorf("completion reason must stay sticky, got %v", got.CompletionReason)
	}
}

func TestContractStore_ListPendingContracts_ExcludesCompleted(t *testing.T) {
	store := NewContractStore()
	ctx := context.Background()
	store.Seed(&domain.Contract{ID: 1, Mint: "M1"})
	store.Seed(&domain.Contract{ID: 2, Mint: "M2"})

	if err := store.MarkContractCompleted(ctx, 1, domain.ReasonManual, time.Now()); err != nil {
		t.Fatalf("completion failed: %v", err)
	}

	pending, _ := store.ListPendingContracts(ctx)
	if len(pending) != 1 || pending[0].ID != 2 {
		t.Errorf("expected only contract 2 pending, got %+v", pending)
	}
}
