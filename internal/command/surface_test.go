package command

import (
	"context"
	"testing"
	"time"

	"contractcore/internal/domain"
	"contractcore/internal/oracle"
	"contractcore/internal/storage/memory"
	"contractcore/internal/supervisor"
)

type fakeFeed struct{}

func (fakeFeed) Subscribe(mint string) (<-chan domain.TradeEvent, error) {
	return make(chan domain.TradeEvent, 8), nil
}
func (fakeFeed) Unsubscribe(mint string) error { return nil }
func (fakeFeed) Fatal() <-chan struct{}        { return nil }

type fakePriceOracle struct{}

func (fakePriceOracle) SolPriceUSD(ctx context.Context) (float64, error) { return 1, nil }

type fakeBalanceOracle struct{}

func (fakeBalanceOracle) CheckBalance(ctx context.Context, mint, wallet string, requiredAmount float64) oracle.BalanceResult {
	return oracle.BalanceResult{OK: true, HasEnough: true}
}

func newTestSurface() (*Surface, *memory.ContractStore, *memory.UserContractStore) {
	contracts := memory.NewContractStore()
	userContracts := memory.NewUserContractStore()
	users := memory.NewUserStore()
	sup := supervisor.New(fakeFeed{}, contracts, userContracts, users, fakePriceOracle{}, fakeBalanceOracle{}, nil, supervisor.DefaultConfig())
	return New(sup), contracts, userContracts
}

func TestSurface_StartStopStatus(t *testing.T) {
	surface, contracts, userContracts := newTestSurface()
	contracts.Seed(&domain.Contract{ID: 1, Mint: "mintA", Condition1: 1000, Condition2: time.Now().Add(time.Hour), CreatedAt: time.Now()})
	userContracts.Seed(&domain.UserContract{ContractID: 1, UserAddress: "wallet1", Supply: 100, Status: domain.StatusInProgress, SignedAt: time.Now()})

	res := surface.Start(context.Background(), 1)
	if !res.OK {
		t.Fatalf("expected Start to succeed, got %+v", res)
	}

	status := surface.Status(context.Background(), 1)
	if !status.OK || status.Snapshot == nil {
		t.Fatalf("expected active status, got %+v", status)
	}

	res = surface.Start(context.Background(), 1)
	if res.OK || res.Reason != "already_active" {
		t.Errorf("expected already_active on double start, got %+v", res)
	}

	stopRes := surface.Stop(context.Background(), 1)
	if !stopRes.OK {
		t.Fatalf("expected Stop to succeed, got %+v", stopRes)
	}

	status = surface.Status(context.Background(), 1)
	if status.OK {
		t.Errorf("expected inactive status after stop, got %+v", status)
	}
}

func TestSurface_StartMissingContract(t *testing.T) {
	surface, _, _ := newTestSurface()
	res := surface.Start(context.Background(), 99)
	if res.OK || res.Reason != "not_found" {
		t.Errorf("expected not_found, got %+v", res)
	}
}

func TestSurface_HealthReportsActiveCount(t *testing.T) {
	surface, contracts, userContracts := newTestSurface()
	contracts.Seed(&domain.Contract{ID: 2, Mint: "mintB", Condition1: 1000, Condition2: time.Now().Add(time.Hour), CreatedAt: time.Now()})
	userContracts.Seed(&domain.UserContract{ContractID: 2, UserAddress: "wallet1", Supply: 100, Status: domain.StatusInProgress, SignedAt: time.Now()})

	if res := surface.Start(context.Background(), 2); !res.OK {
		t.Fatalf("Start: %+v", res)
	}

	health := surface.Health(context.Background())
	if !health.OK || health.ActiveCount != 1 {
		t.Errorf("expected active count 1, got %+v", health)
	}
}
