package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"contractcore/internal/observability"
)

// BalanceResult is the outcome of a balance check against the token's
// native fixed-point units.
type BalanceResult struct {
	OK        bool
	HasEnough bool
	Actual    float64
	Required  float64
	Err       error
}

// BalanceOracle answers "does this wallet hold at least this much of this
// mint" by talking JSON-RPC to a Solana node.
type BalanceOracle struct {
	rpc     *rpcClient
	metrics *observability.Metrics
}

// NewBalanceOracle builds a balance oracle against the given RPC endpoint.
func NewBalanceOracle(rpcURL string) *BalanceOracle {
	return &BalanceOracle{rpc: newRPCClient(rpcURL)}
}

// SetMetrics attaches a Metrics instance; nil is safe and disables
// recording.
func (o *BalanceOracle) SetMetrics(m *observability.Metrics) {
	o.metrics = m
}

// CheckBalance derives the wallet's associated token account for mint,
// reads its balance, and compares it to requiredAmount (human units). A
// missing account is a valid zero balance, not an error.
func (o *BalanceOracle) CheckBalance(ctx context.Context, mint, wallet string, requiredAmount float64) BalanceResult {
	start := time.Now()
	result := o.checkBalance(ctx, mint, wallet, requiredAmount)
	if o.metrics != nil {
		o.metrics.OracleCallLatency.WithLabelValues("balance").Observe(time.Since(start).Seconds())
		if result.Err != nil {
			o.metrics.OracleCallErrors.WithLabelValues("balance").Inc()
		}
	}
	return result
}

func (o *BalanceOracle) checkBalance(ctx context.Context, mint, wallet string, requiredAmount float64) BalanceResult {
	ata, err := deriveAssociatedTokenAccount(wallet, mint)
	if err != nil {
		return BalanceResult{Err: fmt.Errorf("derive associated token account: %w", err)}
	}

	var balResult struct {
		Value *struct {
			Amount   string `json:"amount"`
			Decimals int    `json:"decimals"`
		} `json:"value"`
	}
	if err := o.rpc.call(ctx, "getTokenAccountBalance", []interface{}{ata}, &balResult); err != nil {
		if isMissingAccountError(err) {
			return BalanceResult{OK: true, HasEnough: requiredAmount <= 0, Actual: 0, Required: requiredAmount}
		}
		return BalanceResult{Err: fmt.Errorf("get token account balance: %w", err)}
	}

	if balResult.Value == nil {
		return BalanceResult{OK: true, HasEnough: requiredAmount <= 0, Actual: 0, Required: requiredAmount}
	}

	var rawAmount uint64
	fmt.Sscanf(balResult.Value.Amount, "%d", &rawAmount)
	decimals := balResult.Value.Decimals

	actual := float64(rawAmount) / math.Pow(10, float64(decimals))
	requiredRaw := uint64(math.Round(requiredAmount * math.Pow(10, float64(decimals))))

	return BalanceResult{
		OK:        true,
		HasEnough: rawAmount >= requiredRaw,
		Actual:    actual,
		Required:  requiredAmount,
	}
}

func isMissingAccountError(err error) bool {
	rerr, ok := err.(*rpcError)
	return ok && rerr.Code == -32602 // Solana's "invalid account" / not-found shape
}
